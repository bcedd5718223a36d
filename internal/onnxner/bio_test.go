package onnxner

import (
	"math"
	"reflect"
	"testing"

	"github.com/scrubly-ai/scrubly/internal/pii"
)

func TestDecodeEntities(t *testing.T) {
	entityMap := map[string]string{"PER": "PERSON", "PHONE": "PHONE_NUMBER"}

	tests := []struct {
		name    string
		labels  []string
		scores  []float64
		offsets []TokenSpan
		want    []pii.Span
	}{
		{
			name:    "single token entity",
			labels:  []string{"O", "B-PER", "O"},
			scores:  []float64{0.9, 0.8, 0.9},
			offsets: []TokenSpan{{-1, -1}, {0, 4}, {5, 7}},
			want:    []pii.Span{{EntityType: "PERSON", Start: 0, End: 4, Score: 0.8}},
		},
		{
			name:    "multi token run averages scores",
			labels:  []string{"O", "B-PER", "I-PER", "O"},
			scores:  []float64{0.9, 0.8, 0.6, 0.9},
			offsets: []TokenSpan{{-1, -1}, {0, 4}, {5, 10}, {11, 13}},
			want:    []pii.Span{{EntityType: "PERSON", Start: 0, End: 10, Score: 0.7}},
		},
		{
			name:    "adjacent B tokens split entities",
			labels:  []string{"B-PER", "B-PER"},
			scores:  []float64{0.9, 0.7},
			offsets: []TokenSpan{{0, 4}, {5, 9}},
			want: []pii.Span{
				{EntityType: "PERSON", Start: 0, End: 4, Score: 0.9},
				{EntityType: "PERSON", Start: 5, End: 9, Score: 0.7},
			},
		},
		{
			name:    "I without matching B starts a new run",
			labels:  []string{"B-PER", "I-PHONE"},
			scores:  []float64{0.9, 0.7},
			offsets: []TokenSpan{{0, 4}, {5, 9}},
			want: []pii.Span{
				{EntityType: "PERSON", Start: 0, End: 4, Score: 0.9},
				{EntityType: "PHONE_NUMBER", Start: 5, End: 9, Score: 0.7},
			},
		},
		{
			name:    "O interrupts a run",
			labels:  []string{"B-PHONE", "O", "I-PHONE"},
			scores:  []float64{0.9, 0.5, 0.8},
			offsets: []TokenSpan{{0, 3}, {4, 6}, {7, 10}},
			want: []pii.Span{
				{EntityType: "PHONE_NUMBER", Start: 0, End: 3, Score: 0.9},
				{EntityType: "PHONE_NUMBER", Start: 7, End: 10, Score: 0.8},
			},
		},
		{
			name:    "unmapped label passes through uppercased",
			labels:  []string{"B-org"},
			scores:  []float64{0.9},
			offsets: []TokenSpan{{0, 5}},
			want:    []pii.Span{{EntityType: "ORG", Start: 0, End: 5, Score: 0.9}},
		},
		{
			name:    "special tokens skipped without breaking a run",
			labels:  []string{"B-PER", "I-PER"},
			scores:  []float64{0.8, 0.8},
			offsets: []TokenSpan{{-1, -1}, {0, 4}},
			want:    []pii.Span{{EntityType: "PERSON", Start: 0, End: 4, Score: 0.8}},
		},
		{
			name:    "all outside",
			labels:  []string{"O", "O", "O"},
			scores:  []float64{0.9, 0.9, 0.9},
			offsets: []TokenSpan{{-1, -1}, {0, 4}, {5, 7}},
			want:    nil,
		},
		{
			name:    "malformed label treated as outside",
			labels:  []string{"B-PER", "X-PER", "PER-"},
			scores:  []float64{0.9, 0.9, 0.9},
			offsets: []TokenSpan{{0, 4}, {5, 9}, {10, 14}},
			want:    []pii.Span{{EntityType: "PERSON", Start: 0, End: 4, Score: 0.9}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := decodeEntities(tc.labels, tc.scores, tc.offsets, entityMap)
			if len(got) != len(tc.want) {
				t.Fatalf("got %d spans, want %d: %+v", len(got), len(tc.want), got)
			}
			for i := range got {
				g, w := got[i], tc.want[i]
				if g.EntityType != w.EntityType || g.Start != w.Start || g.End != w.End {
					t.Errorf("span %d = %+v, want %+v", i, g, w)
				}
				if math.Abs(g.Score-w.Score) > 1e-9 {
					t.Errorf("span %d score = %v, want %v", i, g.Score, w.Score)
				}
			}
		})
	}
}

func TestSplitBIO(t *testing.T) {
	tests := []struct {
		label  string
		prefix string
		name   string
		ok     bool
	}{
		{"B-PERSON", "B", "PERSON", true},
		{"I-PHONE_NUMBER", "I", "PHONE_NUMBER", true},
		{"O", "", "", false},
		{"B-", "", "", false},
		{"-PERSON", "", "", false},
		{"X-PERSON", "", "", false},
	}
	for _, tc := range tests {
		prefix, name, ok := splitBIO(tc.label)
		if !reflect.DeepEqual([3]any{prefix, name, ok}, [3]any{tc.prefix, tc.name, tc.ok}) {
			t.Errorf("splitBIO(%q) = %q %q %v, want %q %q %v", tc.label, prefix, name, ok, tc.prefix, tc.name, tc.ok)
		}
	}
}

func TestArgmaxSoftmax(t *testing.T) {
	idx, prob := argmaxSoftmax([]float32{1, 3, 2})
	if idx != 1 {
		t.Fatalf("argmax = %d, want 1", idx)
	}
	want := math.Exp(3) / (math.Exp(1) + math.Exp(3) + math.Exp(2))
	if math.Abs(prob-want) > 1e-9 {
		t.Fatalf("prob = %v, want %v", prob, want)
	}
	if prob <= 0 || prob > 1 {
		t.Fatalf("prob out of range: %v", prob)
	}
}
