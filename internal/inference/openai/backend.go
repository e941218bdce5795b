// Package openai implements the inference backend against OpenAI-compatible
// chat completion servers. It serves both the hosted API and vLLM.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/mentorlens/internal/config"
	"github.com/kiranshivaraju/mentorlens/internal/inference"
	"github.com/kiranshivaraju/mentorlens/pkg/models"
)

// Backend implements models.InferenceBackend using /v1/chat/completions.
type Backend struct {
	name    string
	baseURL string
	model   string
	adapter string
	apiKey  string
	client  *http.Client
}

// NewBackend creates a backend named after cfg.Provider ("openai" or "vllm").
func NewBackend(cfg config.InferenceConfig) *Backend {
	name := cfg.Provider
	if name == "" {
		name = "openai"
	}
	return &Backend{
		name:    name,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		adapter: cfg.Adapter,
		apiKey:  cfg.APIKey,
		client:  &http.Client{},
	}
}

func (b *Backend) Name() string { return b.name }

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
	Stream         bool              `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chatChunk is one server-sent event of a streamed completion.
type chatChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (b *Backend) modelFor(mode models.Mode) (string, error) {
	if !mode.UsesAdapter() {
		return b.model, nil
	}
	if b.adapter == "" {
		return "", inference.ErrAdapterNotConfigured
	}
	return b.adapter, nil
}

func (b *Backend) Infer(ctx context.Context, req models.InferenceRequest) (*models.InferenceResult, error) {
	model, err := b.modelFor(req.Mode)
	if err != nil {
		return nil, err
	}

	mime := req.ImageMIME
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(req.Image)

	body, err := json.Marshal(chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: inference.SystemPrompt},
			{Role: "user", Content: []contentPart{
				{Type: "text", Text: inference.Prompt(req)},
				{Type: "image_url", ImageURL: &imageURL{URL: dataURL}},
			}},
		},
		Temperature:    0.2,
		ResponseFormat: map[string]string{"type": "json_object"},
		Stream:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, inference.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, inference.ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var content, served string
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		content, served, err = readStream(ctx, resp.Body, req.OnProgress)
	} else {
		content, served, err = readCompletion(ctx, resp.Body, req.OnProgress)
	}
	if err != nil {
		return nil, err
	}

	critique, path, err := inference.Parse(content)
	if err != nil {
		return nil, err
	}
	if served != "" {
		model = served
	}
	return &models.InferenceResult{Critique: *critique, ParsePath: path, Model: model}, nil
}

// readStream accumulates the content deltas of an SSE completion and reports
// the text so far after each one.
func readStream(ctx context.Context, body io.Reader, onProgress func(string)) (string, string, error) {
	var (
		out   strings.Builder
		model string
	)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return out.String(), model, nil
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return "", "", fmt.Errorf("%w: decoding stream chunk: %v", inference.ErrMalformedResult, err)
		}
		if chunk.Error != nil {
			return "", "", fmt.Errorf("%w: stream error: %s", inference.ErrBackendUnavailable, chunk.Error.Message)
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		out.WriteString(chunk.Choices[0].Delta.Content)
		if onProgress != nil {
			onProgress(out.String())
		}
	}
	if ctx.Err() != nil {
		return "", "", inference.ClassifyTransportError(ctx.Err())
	}
	if err := scanner.Err(); err != nil {
		return "", "", inference.ClassifyTransportError(err)
	}
	// Some servers close the stream without a [DONE] marker.
	return out.String(), model, nil
}

// readCompletion handles servers that ignore "stream" and answer with a
// single completion body.
func readCompletion(ctx context.Context, body io.Reader, onProgress func(string)) (string, string, error) {
	var chat chatResponse
	if err := json.NewDecoder(body).Decode(&chat); err != nil {
		if ctx.Err() != nil {
			return "", "", inference.ClassifyTransportError(ctx.Err())
		}
		return "", "", fmt.Errorf("%w: decoding chat response: %v", inference.ErrMalformedResult, err)
	}
	if len(chat.Choices) == 0 {
		return "", "", fmt.Errorf("%w: no choices", inference.ErrMalformedResult)
	}
	content := chat.Choices[0].Message.Content
	if onProgress != nil {
		onProgress(content)
	}
	return content, chat.Model, nil
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Health reports ready once the server lists the configured model. vLLM
// answers 503 while weights are still loading, which reads as not ready.
func (b *Backend) Health(ctx context.Context) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/v1/models", nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}
	b.setHeaders(httpReq)

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return false, inference.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%w: %s not ready (status %d)", inference.ErrBackendUnavailable, b.name, resp.StatusCode)
	}

	var list modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return false, fmt.Errorf("decoding models response: %w", err)
	}
	for _, m := range list.Data {
		if m.ID == b.model {
			return true, nil
		}
	}
	return false, nil
}

func (b *Backend) setHeaders(req *http.Request) {
	if b.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.apiKey)
	}
}

var _ models.InferenceBackend = (*Backend)(nil)
