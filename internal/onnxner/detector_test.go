package onnxner

import (
	"context"
	"testing"

	"github.com/scrubly-ai/scrubly/internal/recognizer"
)

func TestDetectorCloseIsIdempotent(t *testing.T) {
	var nilDetector *Detector
	nilDetector.Close()

	d := &Detector{pool: make(chan *nerSession, 1)}
	d.Close()
	d.Close()

	_, err := d.Detect(context.Background(), "Contact John Smith.", recognizer.DetectParams{})
	if err == nil {
		t.Fatal("expected Detect to fail after Close")
	}
	if got, want := err.Error(), "ner detector closed"; got != want {
		t.Fatalf("err = %q, want %q", got, want)
	}
}

func TestDetectorCloseLeavesPoolOpen(t *testing.T) {
	d := &Detector{pool: make(chan *nerSession, 1)}
	d.Close()

	// A Detect call that checked out a session before Close began still
	// returns it through the channel. Sending must not panic.
	d.pool <- &nerSession{}
}
