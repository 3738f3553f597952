// Package gateway is the wallet's language-model client. It speaks a
// prompt-in/text-out contract to a configured provider and layers the
// wallet-specific helpers on top: avatar descriptions, capability
// suggestions, and agent chat replies.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/idvault/idvault/pkg/models"
)

// Generator is the prompt-in/text-out contract the wallet consumes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateStyled conditions the generation on a named style.
	GenerateStyled(ctx context.Context, prompt, style string) (string, error)
}

// Error wraps a failed provider call. Gateway failures are recoverable
// and surfaced to the user; they are the one error category expected to
// propagate out of the wallet.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return "gateway: " + e.Provider + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// ── Gemini provider ─────────────────────────────────────────

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Gemini calls the Google generative-language REST API.
type Gemini struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGemini creates a Gemini generator. endpoint defaults to the public
// API host; model defaults to gemini-1.5-flash.
func NewGemini(endpoint, apiKey, model string) *Gemini {
	if endpoint == "" {
		endpoint = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &Gemini{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Generate sends prompt and returns the first candidate's text.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("api key not configured")}
	}

	body, _ := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
	})

	reqURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.endpoint, g.model, url.QueryEscape(g.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, "POST", reqURL, bytes.NewReader(body))
	if err != nil {
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := g.client.Do(httpReq)
	if err != nil {
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("request failed: %w", err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("status %d: %s", httpResp.StatusCode, string(respBody))}
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("decode response: %w", err)}
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("empty response")}
	}
	text := strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)
	if text == "" {
		return "", &Error{Provider: "gemini", Err: fmt.Errorf("empty response")}
	}
	return text, nil
}

// GenerateStyled conditions the prompt on a named visual/writing style.
func (g *Gemini) GenerateStyled(ctx context.Context, prompt, style string) (string, error) {
	if style != "" {
		prompt = prompt + "\n\nRender the result in this style: " + style + "."
	}
	return g.Generate(ctx, prompt)
}

// Compile-time check that Gemini implements Generator.
var _ Generator = (*Gemini)(nil)

// ── Wallet-facing helpers ───────────────────────────────────

// Assist bundles the wallet's three generation use cases over any
// Generator.
type Assist struct {
	gen Generator
}

// NewAssist wraps a Generator.
func NewAssist(gen Generator) *Assist {
	return &Assist{gen: gen}
}

// AvatarURL generates a visual description for prompt (optionally
// style-conditioned) and returns an avatar image URL seeded with it.
// There is no safe fallback for avatars; gateway errors propagate.
func (a *Assist) AvatarURL(ctx context.Context, prompt, style string) (string, error) {
	wrapped := fmt.Sprintf(
		"Create a detailed visual description for an avatar based on this prompt: %q. "+
			"Focus on style, colors, facial features, and overall appearance. Keep it concise but vivid.",
		prompt)

	var description string
	var err error
	if style != "" {
		description, err = a.gen.GenerateStyled(ctx, wrapped, style)
	} else {
		description, err = a.gen.Generate(ctx, wrapped)
	}
	if err != nil {
		return "", err
	}
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + url.QueryEscape(description), nil
}

// SuggestCapabilities asks the model for 3-5 capabilities fitting an
// agent's name and description, filtered against the vocabulary.
// On any failure it falls back to ["text"] rather than failing the
// registration flow.
func (a *Assist) SuggestCapabilities(ctx context.Context, name, description string) []string {
	prompt := fmt.Sprintf(
		"Based on this AI agent name %q, suggest 3-5 appropriate capabilities from this list: %s. "+
			"Return only the capability names separated by commas.",
		name, strings.Join(models.Capabilities, ", "))
	if description != "" {
		prompt = fmt.Sprintf(
			"Based on this AI agent name %q and description %q, suggest 3-5 appropriate capabilities from this list: %s. "+
				"Return only the capability names separated by commas.",
			name, description, strings.Join(models.Capabilities, ", "))
	}

	text, err := a.gen.Generate(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Capability suggestion failed, falling back to text")
		return []string{models.CapabilityText}
	}

	caps := models.FilterCapabilities(strings.Split(text, ","))
	if len(caps) == 0 {
		return []string{models.CapabilityText}
	}
	if len(caps) > 5 {
		caps = caps[:5]
	}
	return caps
}

// ChatReply generates an in-character reply from a registered agent.
// Gateway errors propagate; there is no safe default reply.
func (a *Assist) ChatReply(ctx context.Context, agent models.Agent, message string) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an AI agent", agent.Name)
	if agent.Description != "" {
		fmt.Fprintf(&b, " described as: %s", agent.Description)
	}
	if len(agent.Capabilities) > 0 {
		fmt.Fprintf(&b, ". Your capabilities are: %s", strings.Join(agent.Capabilities, ", "))
	}
	fmt.Fprintf(&b, ". Reply in character, briefly, to this message: %s", message)
	return a.gen.Generate(ctx, b.String())
}
