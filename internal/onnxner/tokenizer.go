package onnxner

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// TokenSpan is a token's rune offsets in the source text. Special and
// padding tokens carry {-1, -1}.
type TokenSpan struct {
	Start int
	End   int
}

// WordPieceTokenizer is a minimal BERT-compatible tokenizer that tracks
// rune offsets, so token labels can be projected back onto the source text.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
}

// LoadWordPieceTokenizer builds the tokenizer from a vocab.txt file, one
// token per line, line number = token id.
func LoadWordPieceTokenizer(path string) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	scanner := bufio.NewScanner(f)
	var id int64
	for scanner.Scan() {
		tok := strings.TrimRight(scanner.Text(), "\r\n")
		if tok == "" && id > 0 {
			id++
			continue
		}
		vocab[tok] = id
		id++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}

	t := &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    true,
		continuation: "##",
	}
	var ok bool
	if t.clsID, ok = vocab["[CLS]"]; !ok {
		return nil, fmt.Errorf("vocab missing [CLS]")
	}
	if t.sepID, ok = vocab["[SEP]"]; !ok {
		return nil, fmt.Errorf("vocab missing [SEP]")
	}
	if t.padID, ok = vocab["[PAD]"]; !ok {
		return nil, fmt.Errorf("vocab missing [PAD]")
	}
	if t.unkID, ok = vocab["[UNK]"]; !ok {
		return nil, fmt.Errorf("vocab missing [UNK]")
	}
	return t, nil
}

// word is a pre-tokenized run of text with its rune offsets.
type word struct {
	text  string
	start int
	end   int
}

// preTokenize splits text into words and standalone punctuation, keeping
// rune offsets for every piece.
func preTokenize(text string) []word {
	var words []word
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
				j++
			}
			words = append(words, word{text: string(runes[i:j]), start: i, end: j})
			i = j
		default:
			words = append(words, word{text: string(r), start: i, end: i + 1})
			i++
		}
	}
	return words
}

// EncodeWithOffsets produces input ids, attention mask, and per-token rune
// offsets, padded or truncated to seqLen.
func (t *WordPieceTokenizer) EncodeWithOffsets(text string, seqLen int) ([]int64, []int64, []TokenSpan) {
	ids := make([]int64, 0, seqLen)
	offsets := make([]TokenSpan, 0, seqLen)

	ids = append(ids, t.clsID)
	offsets = append(offsets, TokenSpan{-1, -1})

	for _, w := range preTokenize(text) {
		if len(ids) >= seqLen-1 {
			break
		}
		for _, piece := range t.wordPieces(w) {
			if len(ids) >= seqLen-1 {
				break
			}
			ids = append(ids, piece.id)
			offsets = append(offsets, TokenSpan{piece.start, piece.end})
		}
	}

	ids = append(ids, t.sepID)
	offsets = append(offsets, TokenSpan{-1, -1})

	mask := make([]int64, seqLen)
	for i := range ids {
		mask[i] = 1
	}
	for len(ids) < seqLen {
		ids = append(ids, t.padID)
		offsets = append(offsets, TokenSpan{-1, -1})
	}
	return ids, mask, offsets
}

type piece struct {
	id    int64
	start int
	end   int
}

// wordPieces runs greedy longest-match-first subword splitting over one
// word. An unsplittable word becomes a single [UNK] covering its offsets.
func (t *WordPieceTokenizer) wordPieces(w word) []piece {
	text := w.text
	if t.lowerCase {
		text = strings.ToLower(text)
	}
	runes := []rune(text)

	var pieces []piece
	pos := 0
	for pos < len(runes) {
		end := len(runes)
		var matchedID int64
		found := false
		for end > pos {
			sub := string(runes[pos:end])
			if pos > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				matchedID, found = id, true
				break
			}
			end--
		}
		if !found {
			return []piece{{id: t.unkID, start: w.start, end: w.end}}
		}
		pieces = append(pieces, piece{id: matchedID, start: w.start + pos, end: w.start + end})
		pos = end
	}
	return pieces
}
