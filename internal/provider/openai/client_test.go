package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/entitlement"
)

func newTestClient(url string) *Client {
	c := NewClient("sk-test", "").WithBaseURL(url)
	c.initialDelay = time.Millisecond
	return c
}

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
	return string(b)
}

func TestDiagnoseSendsTierPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer, got %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		w.Write([]byte(chatReply(`{"risco":"ALTO"}`)))
	}))
	defer srv.Close()

	raw, err := newTestClient(srv.URL).Diagnose(context.Background(), "tênis", entitlement.TierFull)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if string(raw) != `{"risco":"ALTO"}` {
		t.Errorf("raw = %s", raw)
	}
	if got.Model != DefaultModel || got.ResponseFormat.Type != "json_object" {
		t.Errorf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", got.Messages)
	}
	if !strings.Contains(got.Messages[1].Content, "Produto: tênis") || !strings.Contains(got.Messages[1].Content, "publico_alvo\": \"Descreva") {
		t.Errorf("full prompt missing paid schema:\n%s", got.Messages[1].Content)
	}
}

func TestBuildPromptReducedNullsPaidFields(t *testing.T) {
	p := BuildPrompt("caneca", entitlement.TierNoCredit)
	if !strings.Contains(p, `"publico_alvo": null`) || !strings.Contains(p, `"ctas": null`) {
		t.Errorf("reduced prompt should null paid fields:\n%s", p)
	}
	if strings.Contains(p, "Descreva o público-alvo") {
		t.Error("reduced prompt asks for paid content")
	}
}

func TestDiagnoseRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(chatReply("{}")))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Diagnose(context.Background(), "x", entitlement.TierAnonymous); err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestDiagnoseFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"client error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"Incorrect API key"}}`))
		}},
		{"exhausted retries", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"no choices", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}},
		{"truncated", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"choices":[{"message":{"content":"{"},"finish_reason":"length"}]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := newTestClient(srv.URL).Diagnose(context.Background(), "x", entitlement.TierFull)
			if !errors.Is(err, domain.ErrProvider) {
				t.Errorf("err = %v, want ErrProvider", err)
			}
		})
	}
}

func TestDiagnoseMissingKey(t *testing.T) {
	_, err := NewClient("", "").Diagnose(context.Background(), "x", entitlement.TierFull)
	if !errors.Is(err, domain.ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}

func TestDiagnoseHonoursDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := newTestClient(srv.URL).Diagnose(ctx, "x", entitlement.TierFull)
	if !errors.Is(err, domain.ErrProvider) || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want provider error wrapping deadline", err)
	}
}
