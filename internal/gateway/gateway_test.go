package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/idvault/idvault/internal/gateway"
	"github.com/idvault/idvault/pkg/models"
)

// stubGenerator returns a canned reply or error and records the last
// prompt it saw.
type stubGenerator struct {
	reply      string
	err        error
	lastPrompt string
	lastStyle  string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.lastPrompt = prompt
	return s.reply, s.err
}

func (s *stubGenerator) GenerateStyled(_ context.Context, prompt, style string) (string, error) {
	s.lastPrompt = prompt
	s.lastStyle = style
	return s.reply, s.err
}

// ── Assist ───────────────────────────────────────────────────

func TestAvatarURL(t *testing.T) {
	stub := &stubGenerator{reply: "a fox with round glasses & a scarf"}
	assist := gateway.NewAssist(stub)

	got, err := assist.AvatarURL(context.Background(), "friendly fox", "")
	if err != nil {
		t.Fatalf("AvatarURL() error = %v", err)
	}
	wantPrefix := "https://api.dicebear.com/7.x/avataaars/svg?seed="
	if !strings.HasPrefix(got, wantPrefix) {
		t.Fatalf("AvatarURL() = %q, want %s prefix", got, wantPrefix)
	}
	seed, err := url.QueryUnescape(strings.TrimPrefix(got, wantPrefix))
	if err != nil || seed != stub.reply {
		t.Errorf("seed = %q (err %v), want the generated description", seed, err)
	}
	if !strings.Contains(stub.lastPrompt, "friendly fox") {
		t.Errorf("prompt %q does not carry the user's input", stub.lastPrompt)
	}
}

func TestAvatarURLStyled(t *testing.T) {
	stub := &stubGenerator{reply: "pixelated knight"}
	assist := gateway.NewAssist(stub)

	if _, err := assist.AvatarURL(context.Background(), "knight", "pixel-art"); err != nil {
		t.Fatalf("AvatarURL() error = %v", err)
	}
	if stub.lastStyle != "pixel-art" {
		t.Errorf("style = %q, want pixel-art", stub.lastStyle)
	}
}

func TestAvatarURLPropagatesError(t *testing.T) {
	stub := &stubGenerator{err: &gateway.Error{Provider: "stub", Err: errors.New("down")}}
	assist := gateway.NewAssist(stub)

	_, err := assist.AvatarURL(context.Background(), "anything", "")
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		t.Errorf("AvatarURL() error = %v, want gateway.Error", err)
	}
}

func TestSuggestCapabilities(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
		want  []string
	}{
		{
			name:  "clean list",
			reply: "text, code, translate",
			want:  []string{"text", "code", "translate"},
		},
		{
			name:  "noisy casing and unknowns",
			reply: " Text, SORCERY, voice ",
			want:  []string{"text", "voice"},
		},
		{
			name:  "nothing usable falls back",
			reply: "I cannot help with that.",
			want:  []string{"text"},
		},
		{
			name: "provider failure falls back",
			err:  &gateway.Error{Provider: "stub", Err: errors.New("boom")},
			want: []string{"text"},
		},
		{
			name:  "capped at five",
			reply: "text, image, data, voice, code, translate",
			want:  []string{"text", "image", "data", "voice", "code"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assist := gateway.NewAssist(&stubGenerator{reply: tt.reply, err: tt.err})
			got := assist.SuggestCapabilities(context.Background(), "helper", "does things")
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SuggestCapabilities() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChatReply(t *testing.T) {
	stub := &stubGenerator{reply: "Greetings, traveler."}
	assist := gateway.NewAssist(stub)

	agent := models.Agent{
		Name:         "bard",
		Description:  "sings about code",
		Capabilities: []string{"text", "voice"},
	}
	got, err := assist.ChatReply(context.Background(), agent, "hello")
	if err != nil {
		t.Fatalf("ChatReply() error = %v", err)
	}
	if got != stub.reply {
		t.Errorf("ChatReply() = %q, want %q", got, stub.reply)
	}
	for _, want := range []string{"bard", "sings about code", "text, voice", "hello"} {
		if !strings.Contains(stub.lastPrompt, want) {
			t.Errorf("prompt %q missing %q", stub.lastPrompt, want)
		}
	}
}

// ── Gemini ───────────────────────────────────────────────────

func geminiBody(text string) string {
	return fmt.Sprintf(`{"candidates":[{"content":{"parts":[{"text":%q}]}}]}`, text)
}

func TestGeminiGenerate(t *testing.T) {
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		fmt.Fprint(w, geminiBody("  hi there  "))
	}))
	defer srv.Close()

	g := gateway.NewGemini(srv.URL, "secret", "gemini-1.5-flash")
	got, err := g.Generate(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "hi there" {
		t.Errorf("Generate() = %q, want trimmed candidate text", got)
	}
	if gotPath != "/v1beta/models/gemini-1.5-flash:generateContent" {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "secret" {
		t.Errorf("key = %q, want secret", gotKey)
	}
}

func TestGeminiMissingAPIKey(t *testing.T) {
	g := gateway.NewGemini("http://unused.invalid", "", "")
	_, err := g.Generate(context.Background(), "hi")
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		t.Fatalf("Generate() error = %v, want gateway.Error", err)
	}
	if gerr.Provider != "gemini" {
		t.Errorf("Provider = %q, want gemini", gerr.Provider)
	}
}

func TestGeminiHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := gateway.NewGemini(srv.URL, "k", "")
	_, err := g.Generate(context.Background(), "hi")
	var gerr *gateway.Error
	if !errors.As(err, &gerr) {
		t.Fatalf("Generate() error = %v, want gateway.Error", err)
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error %q does not carry the status code", err)
	}
}

func TestGeminiEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates":[]}`)
	}))
	defer srv.Close()

	g := gateway.NewGemini(srv.URL, "k", "")
	if _, err := g.Generate(context.Background(), "hi"); err == nil {
		t.Error("Generate() succeeded on an empty candidate list")
	}
}

func TestGeminiStyled(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Contents []struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"contents"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Contents) > 0 && len(req.Contents[0].Parts) > 0 {
			gotPrompt = req.Contents[0].Parts[0].Text
		}
		fmt.Fprint(w, geminiBody("ok"))
	}))
	defer srv.Close()

	g := gateway.NewGemini(srv.URL, "k", "")
	if _, err := g.GenerateStyled(context.Background(), "draw a cat", "watercolor"); err != nil {
		t.Fatalf("GenerateStyled() error = %v", err)
	}
	if !strings.Contains(gotPrompt, "watercolor") {
		t.Errorf("prompt %q does not carry the style", gotPrompt)
	}
}
