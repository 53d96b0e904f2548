package metadata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// TestParseMetadata verifies JSON parsing of valid response.
func TestParseMetadata(t *testing.T) {
	metadata, err := parseMetadata(`{"summary": " Test summary ", "keywords": ["refund", "returns"]}`)
	if err != nil {
		t.Fatalf("Failed to parse valid JSON response: %v", err)
	}

	if metadata.Summary != "Test summary" {
		t.Errorf("Expected summary 'Test summary', got '%s'", metadata.Summary)
	}
	if len(metadata.Keywords) != 2 {
		t.Errorf("Expected 2 keywords, got %d", len(metadata.Keywords))
	}
}

// TestParseMetadata_MissingKeywords verifies keywords default to an empty list.
func TestParseMetadata_MissingKeywords(t *testing.T) {
	metadata, err := parseMetadata(`{"summary": "Only a summary"}`)
	if err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if metadata.Keywords == nil {
		t.Error("Keywords should be an empty slice, not nil")
	}
}

// TestParseMetadata_Invalid verifies malformed JSON is reported.
func TestParseMetadata_Invalid(t *testing.T) {
	if _, err := parseMetadata("not json"); err == nil {
		t.Error("Expected error for malformed response")
	}
}

// TestTruncateContent verifies truncation works correctly for very long content.
func TestTruncateContent(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)

	longContent := strings.Repeat("This is a test content. ", 4000) // ~100k chars

	truncated := g.truncateContent(longContent)

	expectedMaxChars := DefaultMaxTokens * 4
	if len(truncated) != expectedMaxChars {
		t.Errorf("Expected truncated length %d, got %d", expectedMaxChars, len(truncated))
	}
	if !strings.HasPrefix(longContent, truncated) {
		t.Error("Truncated content should be a prefix of original content")
	}
}

// TestTruncateContent_Short verifies short content is not truncated.
func TestTruncateContent_Short(t *testing.T) {
	g := NewGenerator(nil, "", 0, nil)

	shortContent := strings.Repeat("Short. ", 140)

	if truncated := g.truncateContent(shortContent); truncated != shortContent {
		t.Error("Short content should not be truncated")
	}
}

// TestTruncateContent_MultiByte verifies truncation never splits a character.
func TestTruncateContent_MultiByte(t *testing.T) {
	g := NewGenerator(nil, "", 1, nil)

	truncated := g.truncateContent("ab€cdef")
	if truncated != "ab" {
		t.Errorf("Expected 'ab', got '%s'", truncated)
	}
}

// TestSummarize verifies the request shape and response handling against a fake API.
func TestSummarize(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "cmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   gotModel,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"summary":"Return and refund rules.","keywords":["refund"]}`,
				},
			}},
		})
	}))
	defer srv.Close()

	client := openai.NewClient(option.WithAPIKey("k"), option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	g := NewGenerator(&client, "test-model", 0, nil)

	metadata, err := g.Summarize(context.Background(), "refunds.md", "Refunds within 14 days.")
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if gotModel != "test-model" {
		t.Errorf("Expected model 'test-model', got '%s'", gotModel)
	}
	if metadata.Summary != "Return and refund rules." {
		t.Errorf("Unexpected summary '%s'", metadata.Summary)
	}
}
