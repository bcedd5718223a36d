package engine

import (
	"context"
	"sync"
)

// BatchItem is one batch input. Err is pre-set by the caller for items that
// failed shape validation before reaching the engine (e.g. a JSON element
// that is not a string); such items are recorded as failed without running
// the pipeline.
type BatchItem struct {
	Text string
	Err  error
}

// BatchItemResult is the outcome for one input, at the input's index.
type BatchItemResult struct {
	Index       int             `json:"index"`
	TextPreview string          `json:"text_preview,omitempty"`
	Result      *AnalysisResult `json:"-"`
	Error       string          `json:"error,omitempty"`
}

// BatchSummary aggregates outcomes across the whole batch.
type BatchSummary struct {
	TotalItems    int `json:"total_texts"`
	TotalEntities int `json:"total_entities_found"`
	Succeeded     int `json:"successful_analyses"`
	Failed        int `json:"failed_analyses"`
}

// BatchResult holds per-item results in input order plus the summary.
type BatchResult struct {
	Items   []BatchItemResult `json:"batch_results"`
	Summary BatchSummary      `json:"batch_statistics"`
}

const previewRunes = 100

// AnalyzeBatch runs the analysis pipeline over each item independently with
// at most concurrency items in flight. A failing item is captured in its
// result record and never aborts the remaining items. Results are
// index-stable: Items[i] always corresponds to items[i] even though
// execution may complete out of order.
func (e *Engine) AnalyzeBatch(ctx context.Context, items []BatchItem, opts Options, concurrency int) BatchResult {
	results := make([]BatchItemResult, len(items))
	if concurrency <= 0 {
		concurrency = 4
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item BatchItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.analyzeBatchItem(ctx, i, item, opts)
		}(i, item)
	}
	wg.Wait()

	summary := BatchSummary{TotalItems: len(items)}
	for i := range results {
		if results[i].Error != "" {
			summary.Failed++
			e.tel.RecordBatchItem(ctx, false)
			continue
		}
		summary.Succeeded++
		e.tel.RecordBatchItem(ctx, true)
		if results[i].Result != nil {
			summary.TotalEntities += results[i].Result.Statistics.TotalEntities
		}
	}

	return BatchResult{Items: results, Summary: summary}
}

func (e *Engine) analyzeBatchItem(ctx context.Context, index int, item BatchItem, opts Options) BatchItemResult {
	if item.Err != nil {
		return BatchItemResult{Index: index, Error: item.Err.Error()}
	}

	res, err := e.Analyze(ctx, item.Text, opts)
	if err != nil {
		return BatchItemResult{Index: index, Error: err.Error()}
	}

	return BatchItemResult{
		Index:       index,
		TextPreview: preview(item.Text),
		Result:      res,
	}
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes]) + "..."
}
