// Package chunker splits extracted document text into overlapping word windows.
package chunker

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

const (
	// DefaultWindowSize is the number of words per chunk.
	DefaultWindowSize = 1000

	// DefaultOverlap is the number of words shared by consecutive chunks.
	DefaultOverlap = 200
)

// ErrInvalidConfiguration is returned when the window cannot make forward progress.
var ErrInvalidConfiguration = errors.New("invalid chunking configuration")

// Validate checks that a window/overlap pair always advances.
func Validate(windowSize, overlap int) error {
	if windowSize <= 0 {
		return fmt.Errorf("%w: window size %d must be positive", ErrInvalidConfiguration, windowSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap %d must not be negative", ErrInvalidConfiguration, overlap)
	}
	if overlap >= windowSize {
		return fmt.Errorf("%w: overlap %d must be smaller than window size %d",
			ErrInvalidConfiguration, overlap, windowSize)
	}
	return nil
}

// Split returns the chunks of text as a lazy sequence. Words are whitespace delimited and
// re-joined with single spaces. Each step advances the window by windowSize-overlap words;
// the window stops once it reaches the last word, so the final chunk may be shorter.
// The sequence can be ranged over any number of times.
func Split(text string, windowSize, overlap int) (iter.Seq[string], error) {
	if err := Validate(windowSize, overlap); err != nil {
		return nil, err
	}

	words := strings.Fields(text)
	step := windowSize - overlap

	return func(yield func(string) bool) {
		for start := 0; start < len(words); start += step {
			end := min(start+windowSize, len(words))
			if !yield(strings.Join(words[start:end], " ")) {
				return
			}
			if end == len(words) {
				return
			}
		}
	}, nil
}

// Collect splits text and materialises every chunk.
func Collect(text string, windowSize, overlap int) ([]string, error) {
	seq, err := Split(text, windowSize, overlap)
	if err != nil {
		return nil, err
	}

	var chunks []string
	for chunk := range seq {
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
