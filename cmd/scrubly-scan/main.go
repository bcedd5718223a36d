package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/scrubly-ai/scrubly/internal/config"
	"github.com/scrubly-ai/scrubly/internal/engine"
	"github.com/scrubly-ai/scrubly/internal/extract"
	"github.com/scrubly-ai/scrubly/internal/onnxner"
	"github.com/scrubly-ai/scrubly/internal/recognizer"
)

// scrubly-scan anonymizes a local file without running the HTTP service.

func main() {
	configPath := flag.String("config", "scrubly.yaml", "Path to Scrubly config file")
	inPath := flag.String("in", "", "Input file (txt, md, csv or json)")
	outPath := flag.String("out", "", "Output file (default stdout)")
	entitiesFlag := flag.String("entities", "", "Comma-separated entity types (default all supported)")
	threshold := flag.Float64("threshold", -1, "Confidence threshold override")
	analyzeOnly := flag.Bool("analyze-only", false, "Report detected entities as JSON without rewriting")
	flag.Parse()

	if *inPath == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	detector, cleanup, err := buildDetector(cfg)
	if err != nil {
		log.Fatalf("failed to build detector: %v", err)
	}
	defer cleanup()

	eng := engine.New(engine.Config{
		Detector:       detector,
		Language:       cfg.Engine.Language,
		EntityTypes:    cfg.Engine.EntityTypes,
		ScoreThreshold: *cfg.Engine.ScoreThreshold,
		Policy:         cfg.Anonymization,
	})

	doc, err := readDocument(*inPath, int64(cfg.Server.MaxUploadMB)<<20)
	if err != nil {
		log.Fatalf("failed to read %s: %v", *inPath, err)
	}

	opts := engine.Options{}
	if *entitiesFlag != "" {
		for _, e := range strings.Split(*entitiesFlag, ",") {
			if e = strings.TrimSpace(e); e != "" {
				opts.EntityTypes = append(opts.EntityTypes, e)
			}
		}
	}
	if *threshold >= 0 {
		opts.ScoreThreshold = threshold
	}

	ctx := context.Background()
	if *analyzeOnly {
		result, err := eng.Analyze(ctx, doc.Content, opts)
		if err != nil {
			log.Fatalf("analysis failed: %v", err)
		}
		writeOutput(*outPath, marshalReport(result))
		return
	}

	result, err := eng.Anonymize(ctx, doc.Content, engine.AnonymizeOptions{Options: opts})
	if err != nil {
		log.Fatalf("anonymization failed: %v", err)
	}
	for _, w := range result.Warnings {
		log.Printf("warning: %s", w)
	}
	log.Printf("%s: %d entities anonymized", filepath.Base(*inPath), len(result.Items))
	writeOutput(*outPath, []byte(result.Text))
}

func buildDetector(cfg *config.Config) (recognizer.Detector, func(), error) {
	if cfg.Recognizer.Kind == "onnx" {
		ner, err := onnxner.Load(onnxner.Config{
			BundleDir: cfg.Recognizer.BundleDir,
			SeqLen:    cfg.Recognizer.SeqLen,
			PoolSize:  cfg.Recognizer.PoolSize,
		})
		if err != nil {
			return nil, nil, err
		}
		return ner, ner.Close, nil
	}
	return recognizer.NewRegexDetector(), func() {}, nil
}

func readDocument(path string, maxBytes int64) (*extract.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return extract.Process(f, filepath.Base(path), maxBytes)
}

func marshalReport(result *engine.AnalysisResult) []byte {
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("failed to encode report: %v", err)
	}
	return append(out, '\n')
}

func writeOutput(path string, data []byte) {
	if path == "" {
		fmt.Print(string(data))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Fatalf("failed to write %s: %v", path, err)
	}
}
