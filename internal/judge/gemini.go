// SPDX-License-Identifier: MIT
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultGeminiBase = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls the Generative Language generateContent endpoint
// with a JSON response schema so the model returns a strict verdict
// object.
type GeminiClient struct {
	base  string
	model string
	http  *http.Client
}

func NewGeminiClient(model string) *GeminiClient {
	return &GeminiClient{
		base:  defaultGeminiBase,
		model: model,
		http:  &http.Client{Timeout: 30 * time.Second},
	}
}

// NewGeminiClientWithBase is used by tests to point at a local server.
func NewGeminiClientWithBase(base, model string) *GeminiClient {
	c := NewGeminiClient(model)
	c.base = base
	return c
}

type geminiRequest struct {
	SystemInstruction geminiContent    `json:"system_instruction"`
	Contents          []geminiContent  `json:"contents"`
	GenerationConfig  geminiGenConfig  `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	ResponseMIMEType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

var verdictSchema = json.RawMessage(`{
	"type": "OBJECT",
	"required": ["verdict", "reason", "confidence"],
	"properties": {
		"verdict": {"type": "STRING", "enum": ["ALLOW", "BLOCK"]},
		"reason": {"type": "STRING"},
		"confidence": {"type": "INTEGER"}
	}
}`)

// Generate sends one analysis request and returns the raw model text.
func (c *GeminiClient) Generate(ctx context.Context, apiKey, systemPrompt string, video VideoContext) (string, error) {
	userText := fmt.Sprintf(
		"Analyze this YouTube video for a 6-year-old safety policy.\n"+
			"Video URL: %s\nVideo ID: %s\nTitle: %s\nChannel ID: %s\nChannel title: %s",
		video.VideoURL, video.VideoID, video.Title, video.ChannelID, video.ChannelTitle)

	reqBody := geminiRequest{
		SystemInstruction: geminiContent{Parts: []geminiPart{{Text: systemPrompt}}},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userText}}},
		},
		GenerationConfig: geminiGenConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   verdictSchema,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.base, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini status %d: %s", resp.StatusCode, truncate(string(body), 300))
	}

	var out struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("gemini response decode: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("gemini response empty")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
