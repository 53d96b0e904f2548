// Package extract turns uploaded document bytes into normalised plain text.
package extract

import (
	"bytes"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars caps how much text one document contributes to the knowledge base.
const DefaultMaxChars = 10000

// ExtractionError reports that a document's bytes cannot be read as text.
type ExtractionError struct {
	Type   string
	Reason string
	Err    error
}

func (e *ExtractionError) Error() string {
	msg := fmt.Sprintf("could not extract text from %s document: %s", e.Type, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Format is a document family recognised by the extractor.
type Format string

const (
	FormatText     Format = "txt"
	FormatMarkdown Format = "md"
	FormatHTML     Format = "html"
	FormatDOCX     Format = "docx"
	FormatPDF      Format = "pdf"
	FormatDOC      Format = "doc"
)

var mimeFormats = map[string]Format{
	"text/plain":      FormatText,
	"text/markdown":   FormatMarkdown,
	"text/x-markdown": FormatMarkdown,
	"text/html":       FormatHTML,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": FormatDOCX,
	"application/pdf":    FormatPDF,
	"application/msword": FormatDOC,
}

var extensionFormats = map[string]Format{
	"txt":      FormatText,
	"text":     FormatText,
	"md":       FormatMarkdown,
	"markdown": FormatMarkdown,
	"html":     FormatHTML,
	"htm":      FormatHTML,
	"docx":     FormatDOCX,
	"pdf":      FormatPDF,
	"doc":      FormatDOC,
}

// DetectFormat resolves a declared type, which may be a MIME type, a bare extension
// or a file name.
func DetectFormat(declared string) (Format, bool) {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if mediaType, _, found := strings.Cut(declared, ";"); found {
		declared = strings.TrimSpace(mediaType)
	}
	if f, ok := mimeFormats[declared]; ok {
		return f, true
	}
	ext := strings.TrimPrefix(path.Ext(declared), ".")
	if ext == "" {
		ext = strings.TrimPrefix(declared, ".")
	}
	f, ok := extensionFormats[ext]
	return f, ok
}

// Extractor converts raw bytes into normalised text.
type Extractor struct {
	maxChars int
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxChars sets the truncation limit in characters. Zero disables truncation.
func WithMaxChars(n int) Option {
	return func(e *Extractor) {
		if n >= 0 {
			e.maxChars = n
		}
	}
}

// New creates an extractor with the given options.
func New(opts ...Option) *Extractor {
	e := &Extractor{maxChars: DefaultMaxChars}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads data according to its declared type and returns normalised text.
func (e *Extractor) Extract(declaredType string, data []byte) (string, error) {
	format, ok := DetectFormat(declaredType)
	if !ok {
		return "", &ExtractionError{Type: declaredType, Reason: "unsupported document type"}
	}

	var (
		raw string
		err error
	)
	switch format {
	case FormatText:
		raw, err = plainText(data)
	case FormatMarkdown:
		raw, err = markdownText(data)
	case FormatHTML:
		raw, err = htmlText(data)
	case FormatDOCX:
		raw, err = docxText(data)
	default:
		return "", &ExtractionError{Type: string(format), Reason: "text extraction is not supported for this format"}
	}
	if err != nil {
		return "", &ExtractionError{Type: string(format), Reason: "unreadable content", Err: err}
	}

	return Normalize(raw, e.maxChars), nil
}

// plainText accepts UTF-8 text without NUL bytes.
func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("content is not valid UTF-8")
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return "", fmt.Errorf("content contains binary data")
	}
	return string(data), nil
}
