// Package ollama implements the inference backend against Ollama's HTTP API.
package ollama

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

// Backend implements models.InferenceBackend using Ollama.
type Backend struct {
	baseURL string
	model   string
	adapter string
	client  *http.Client
}

// NewBackend creates an Ollama backend. Per-call deadlines come from the
// caller's context, so the client itself has no timeout.
func NewBackend(cfg config.InferenceConfig) *Backend {
	return &Backend{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		adapter: cfg.Adapter,
		client:  &http.Client{},
	}
}

func (b *Backend) Name() string { return "ollama" }

type generateRequest struct {
	Model   string         `json:"model"`
	System  string         `json:"system"`
	Prompt  string         `json:"prompt"`
	Images  []string       `json:"images"`
	Format  string         `json:"format"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
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

	body, err := json.Marshal(generateRequest{
		Model:   model,
		System:  inference.SystemPrompt,
		Prompt:  inference.Prompt(req),
		Images:  []string{base64.StdEncoding.EncodeToString(req.Image)},
		Format:  "json",
		Stream:  true,
		Options: map[string]any{"temperature": 0.2},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, inference.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, inference.ClassifyStatus(resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("%w: decoding stream chunk: %v", inference.ErrMalformedResult, err)
		}
		if chunk.Error != "" {
			return nil, fmt.Errorf("%w: %s", inference.ErrBackendUnavailable, chunk.Error)
		}
		out.WriteString(chunk.Response)
		if req.OnProgress != nil && chunk.Response != "" {
			req.OnProgress(out.String())
		}
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, inference.ClassifyTransportError(ctx.Err())
		}
		return nil, inference.ClassifyTransportError(err)
	}

	critique, path, err := inference.Parse(out.String())
	if err != nil {
		return nil, err
	}
	return &models.InferenceResult{Critique: *critique, ParsePath: path, Model: model}, nil
}

type tagsResponse struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// Health reports ready once Ollama answers and has the configured model pulled.
func (b *Backend) Health(ctx context.Context) (bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/api/tags", nil)
	if err != nil {
		return false, fmt.Errorf("building request: %w", err)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return false, inference.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: ollama not ready (status %d)", inference.ErrBackendUnavailable, resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false, fmt.Errorf("decoding tags response: %w", err)
	}
	for _, m := range tags.Models {
		if sameModel(m.Name, b.model) || sameModel(m.Model, b.model) {
			return true, nil
		}
	}
	return false, nil
}

// sameModel treats "llava" and "llava:latest" as the same tag.
func sameModel(have, want string) bool {
	if have == want {
		return true
	}
	return strings.TrimSuffix(have, ":latest") == strings.TrimSuffix(want, ":latest")
}

var _ models.InferenceBackend = (*Backend)(nil)
