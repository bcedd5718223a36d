package extract

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
)

// Document is the extracted text of an uploaded file, ready for analysis.
type Document struct {
	Filename string         `json:"filename"`
	FileType string         `json:"file_type"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// ErrUnsupported reports a file extension no extractor handles.
type ErrUnsupported struct {
	FileType string
}

func (e *ErrUnsupported) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.FileType)
}

// SupportedTypes lists the extensions Process accepts.
func SupportedTypes() []string {
	return []string{"txt", "md", "csv", "json"}
}

// FileType resolves the lowercase extension of a filename, without the dot.
func FileType(filename string) string {
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	return strings.ToLower(ext)
}

// Process reads the file body and extracts analyzable text. maxBytes caps
// the read; a stream longer than that fails rather than truncating silently.
func Process(r io.Reader, filename string, maxBytes int64) (*Document, error) {
	fileType := FileType(filename)

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file %s exceeds %d byte limit", filename, maxBytes)
	}

	switch fileType {
	case "txt", "md":
		return processText(data, filename, fileType), nil
	case "csv":
		return processCSV(data, filename)
	case "json":
		return processJSON(data, filename)
	default:
		return nil, &ErrUnsupported{FileType: fileType}
	}
}

func processText(data []byte, filename, fileType string) *Document {
	content := string(data)
	return &Document{
		Filename: filename,
		FileType: fileType,
		Content:  content,
		Metadata: map[string]any{
			"size":  len(content),
			"lines": strings.Count(content, "\n") + 1,
		},
	}
}

// processCSV renders rows as pipe-separated lines under an underlined
// header, the shape the analyzers see for tabular input.
func processCSV(data []byte, filename string) (*Document, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", filename, err)
	}

	var b strings.Builder
	columns := 0
	for i, row := range rows {
		line := strings.Join(row, " | ")
		b.WriteString(line)
		b.WriteByte('\n')
		if i == 0 {
			b.WriteString(strings.Repeat("-", len(line)))
			b.WriteByte('\n')
		}
		if len(row) > columns {
			columns = len(row)
		}
	}

	dataRows := 0
	if len(rows) > 0 {
		dataRows = len(rows) - 1
	}
	return &Document{
		Filename: filename,
		FileType: "csv",
		Content:  strings.TrimSpace(b.String()),
		Metadata: map[string]any{
			"total_rows":    dataRows,
			"total_columns": columns,
		},
	}, nil
}

func processJSON(data []byte, filename string) (*Document, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", filename, err)
	}

	content := jsonToText(parsed, "")
	return &Document{
		Filename: filename,
		FileType: "json",
		Content:  content,
		Metadata: map[string]any{
			"size":      len(content),
			"structure": jsonStructure(parsed),
		},
	}, nil
}

// jsonToText flattens JSON into indented "key: value" lines so offsets in
// the extracted text stay meaningful for span reporting.
func jsonToText(data any, prefix string) string {
	var b strings.Builder
	switch v := data.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v[k].(type) {
			case map[string]any, []any:
				b.WriteString(prefix + k + ":\n")
				b.WriteString(jsonToText(v[k], prefix+"  "))
			default:
				b.WriteString(fmt.Sprintf("%s%s: %s\n", prefix, k, scalarString(v[k])))
			}
		}
	case []any:
		for i, item := range v {
			b.WriteString(fmt.Sprintf("%s[%d]:\n", prefix, i))
			b.WriteString(jsonToText(item, prefix+"  "))
		}
	default:
		b.WriteString(prefix + scalarString(v) + "\n")
	}
	return b.String()
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func jsonStructure(data any) map[string]any {
	switch v := data.(type) {
	case map[string]any:
		nested, arrays := 0, 0
		for _, val := range v {
			switch val.(type) {
			case map[string]any:
				nested++
			case []any:
				arrays++
			}
		}
		return map[string]any{
			"type":           "object",
			"keys":           len(v),
			"nested_objects": nested,
			"arrays":         arrays,
		}
	case []any:
		return map[string]any{
			"type":   "array",
			"length": len(v),
		}
	default:
		return map[string]any{
			"type": fmt.Sprintf("%T", v),
		}
	}
}
