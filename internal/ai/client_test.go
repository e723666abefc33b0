package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keepsake-app/keepsake/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(&config.AIConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		TranscribeModel: "whisper-1",
		OutlineModel:    "gpt-4o",
		DraftModel:      "gpt-4o",
		Timeout:         5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClient_RequiresAPIKey(t *testing.T) {
	if _, err := NewClient(&config.AIConfig{}); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestTranscribe(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected whisper-1, got %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("expected verbose_json, got %q", got)
		}
		json.NewEncoder(w).Encode(Transcription{
			Text:     "I was born on the farm.",
			Duration: 12.5,
			Segments: []TranscriptSegment{{Start: 0, End: 12.5, Text: "I was born on the farm."}},
		})
	})

	tr, err := c.Transcribe(context.Background(), "recording.webm", strings.NewReader("audio-bytes"))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "I was born on the farm." {
		t.Errorf("unexpected text %q", tr.Text)
	}
	if len(tr.Segments) != 1 {
		t.Errorf("expected 1 segment, got %d", len(tr.Segments))
	}
}

func TestTranscribe_ProviderError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"file too large"}}`, http.StatusBadRequest)
	})

	if _, err := c.Transcribe(context.Background(), "big.webm", strings.NewReader("x")); err == nil {
		t.Fatal("expected error from 400 response")
	}
}

func TestProposeOutline(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ResponseFormat == nil || req.ResponseFormat.Type != "json_object" {
			t.Error("outline calls must request JSON mode")
		}
		if !strings.Contains(req.Messages[1].Content, "childhood") {
			t.Error("themes should be included in the prompt")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{
					"role":    "assistant",
					"content": `{"chapters":[{"title":"The Farm","bullets":["born 1941","the old barn"]}]}`,
				},
			}},
		})
	})

	outline, err := c.ProposeOutline(context.Background(),
		[]string{"I was born on the farm in 1941."}, []string{"childhood"}, 1000)
	if err != nil {
		t.Fatalf("ProposeOutline: %v", err)
	}
	if len(outline.Chapters) != 1 || outline.Chapters[0].Title != "The Farm" {
		t.Errorf("unexpected outline %+v", outline)
	}
}

func TestProposeOutline_TruncatesInput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages[1].Content) > 500 {
			t.Errorf("transcript not truncated: %d chars", len(req.Messages[1].Content))
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": `{"chapters":[{"title":"A","bullets":[]}]}`},
			}},
		})
	})

	long := strings.Repeat("a very long story ", 500)
	if _, err := c.ProposeOutline(context.Background(), []string{long}, nil, 100); err != nil {
		t.Fatalf("ProposeOutline: %v", err)
	}
}

func TestProposeOutline_UnparseableModelOutput(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "Sure! Here is an outline:"},
			}},
		})
	})

	if _, err := c.ProposeOutline(context.Background(), []string{"story"}, nil, 0); err == nil {
		t.Fatal("expected error for non-JSON model output")
	}
}

func TestDraftChapter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ResponseFormat != nil {
			t.Error("draft calls must not request JSON mode")
		}
		if !strings.Contains(req.Messages[1].Content, "make it shorter") {
			t.Error("revision notes should be in the prompt")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message": map[string]any{"role": "assistant", "content": "  I was born in 1941.  "},
			}},
		})
	})

	prose, err := c.DraftChapter(context.Background(), DraftChapterInput{
		Title:      "The Farm",
		Bullets:    []string{"born 1941"},
		Transcript: "I was born on the farm in 1941.",
		Notes:      "make it shorter",
	})
	if err != nil {
		t.Fatalf("DraftChapter: %v", err)
	}
	if prose != "I was born in 1941." {
		t.Errorf("expected trimmed prose, got %q", prose)
	}
}
