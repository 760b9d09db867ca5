package vertex

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultGenerationConfig mirrors the sampling parameters the answer
// pipeline was tuned with.
var DefaultGenerationConfig = GenerationConfig{
	Temperature:     0.7,
	TopP:            0.9,
	TopK:            40,
	MaxOutputTokens: 8192,
}

type GenerationConfig struct {
	Temperature     float64  `json:"temperature,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	TopK            int      `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type SafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

// PermissiveSafety disables blocking for every harm category. Legal text
// trips the default filters often enough that retrieval answers come back
// empty without this.
func PermissiveSafety() []SafetySetting {
	categories := []string{
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_HARASSMENT",
	}
	out := make([]SafetySetting, 0, len(categories))
	for _, c := range categories {
		out = append(out, SafetySetting{Category: c, Threshold: "BLOCK_NONE"})
	}
	return out
}

// Message is one conversation turn. Role is "user" or "model".
type Message struct {
	Role string
	Text string
}

// Reply is a complete generation result.
type Reply struct {
	Text         string
	FinishReason string
	Usage        *UsageMetadata
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Generator calls a Gemini model through the Vertex AI REST surface.
type Generator struct {
	client *Client
	model  string
	config GenerationConfig
	safety []SafetySetting
}

type GeneratorOption func(*Generator)

func WithGenerationConfig(cfg GenerationConfig) GeneratorOption {
	return func(g *Generator) { g.config = cfg }
}

func WithSafetySettings(s []SafetySetting) GeneratorOption {
	return func(g *Generator) { g.safety = s }
}

// NewGenerator creates a Gemini generator. Only gemini-family models are
// reachable through the generateContent verbs.
func NewGenerator(client *Client, model string, opts ...GeneratorOption) (*Generator, error) {
	if !strings.HasPrefix(model, "gemini-") {
		return nil, fmt.Errorf("vertex generator: model %q is not a gemini model", model)
	}
	g := &Generator{
		client: client,
		model:  model,
		config: DefaultGenerationConfig,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Model returns the model id this generator targets.
func (g *Generator) Model() string { return g.model }

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SafetySettings    []SafetySetting   `json:"safetySettings,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata"`
}

func (g *Generator) buildRequest(system string, msgs []Message) generateRequest {
	req := generateRequest{
		GenerationConfig: &g.config,
		SafetySettings:   g.safety,
	}
	if system != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: system}}}
	}
	for _, m := range msgs {
		req.Contents = append(req.Contents, content{Role: m.Role, Parts: []part{{Text: m.Text}}})
	}
	return req
}

// Generate runs a single non-streaming completion.
func (g *Generator) Generate(ctx context.Context, system string, msgs []Message) (*Reply, error) {
	resp, err := g.client.post(ctx, g.client.modelURL(g.model, "generateContent"), g.buildRequest(system, msgs))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("vertex generate: no candidates returned")
	}

	var sb strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return &Reply{
		Text:         sb.String(),
		FinishReason: out.Candidates[0].FinishReason,
		Usage:        out.UsageMetadata,
	}, nil
}

// Stream runs a streaming completion, invoking fn once per text chunk. The
// returned Reply carries the concatenated text and the final usage counts.
func (g *Generator) Stream(ctx context.Context, system string, msgs []Message, fn func(chunk string) error) (*Reply, error) {
	url := g.client.modelURL(g.model, "streamGenerateContent") + "?alt=sse"
	resp, err := g.client.post(ctx, url, g.buildRequest(system, msgs))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	reply := &Reply{}
	var sb strings.Builder

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk generateResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.UsageMetadata != nil {
			reply.Usage = chunk.UsageMetadata
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		if fr := chunk.Candidates[0].FinishReason; fr != "" {
			reply.FinishReason = fr
		}
		for _, p := range chunk.Candidates[0].Content.Parts {
			if p.Text == "" {
				continue
			}
			sb.WriteString(p.Text)
			if fn != nil {
				if err := fn(p.Text); err != nil {
					return nil, err
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	reply.Text = sb.String()
	return reply, nil
}
