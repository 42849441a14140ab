// Package ollama runs meal inference against a local Ollama server. Useful
// for development without AWS credentials; vision needs a multimodal model
// such as llava or llama3.2-vision.
package ollama

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"mealsense"
	"mealsense/inference"
)

type options struct {
	Temperature   float64 `json:"temperature,omitempty"`
	TopP          float64 `json:"top_p,omitempty"`
	RepeatPenalty float64 `json:"repeat_penalty,omitempty"`
	NumCtx        int     `json:"num_ctx,omitempty"`
}

type Client struct {
	endpoint   string
	model      string
	httpClient mealsense.HTTPClient
	options    options
}

var _ mealsense.InferenceAdapter = (*Client)(nil)

type ClientOpts struct {
	BaseEndpoint string
	ModelID      string
	HTTPClient   mealsense.HTTPClient
}

func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseEndpoint == "" {
		return nil, fmt.Errorf("invalid base endpoint")
	}
	if opts.ModelID == "" {
		return nil, fmt.Errorf("invalid model ID")
	}

	return &Client{
		model:      opts.ModelID,
		httpClient: opts.HTTPClient,
		endpoint:   opts.BaseEndpoint + "/api/chat",
		options: options{
			Temperature:   0.2,
			TopP:          0.9,
			RepeatPenalty: 1.05,
			NumCtx:        16384,
		},
	}, nil
}

type wireMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64-encoded
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	// Format carries the response JSON schema for structured output
	// (plain "json" is also accepted by older servers).
	Format  json.RawMessage `json:"format,omitempty"`
	Stream  bool            `json:"stream"`
	Options options         `json:"options,omitempty"`
}

type wireResponse struct {
	Message wireMessage `json:"message"`
	// other metadata omitted but available
}

func (c *Client) Analyze(ctx context.Context, req mealsense.InferenceRequest) (mealsense.InferenceResult, error) {
	slog.Info("OLLAMA: Analyze invoked", "user_id", req.UserID, "quota_type", req.QuotaType())

	userMsg := wireMessage{Role: "user", Content: inference.BuildPrompt(req)}
	if len(req.ImageData) > 0 {
		userMsg.Images = []string{base64.StdEncoding.EncodeToString(req.ImageData)}
	}

	reqBody := wireRequest{
		Model: c.model,
		Messages: []wireMessage{
			{Role: "system", Content: inference.SystemPrompt()},
			userMsg,
		},
		Format:  inference.ResponseSchemaJSON(),
		Stream:  false,
		Options: c.options,
	}
	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return mealsense.InferenceResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(reqBytes))
	if err != nil {
		return mealsense.InferenceResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return mealsense.InferenceResult{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return mealsense.InferenceResult{}, fmt.Errorf("OLLAMA: %s: %s", resp.Status, string(body))
	}

	var wr wireResponse
	if err := json.Unmarshal(body, &wr); err != nil {
		slog.Warn("OLLAMA: envelope decode failed", "err", err)
		return mealsense.InferenceResult{}, fmt.Errorf("OLLAMA: invalid response envelope: %w", err)
	}

	result, err := inference.Parse(wr.Message.Content)
	if err != nil {
		return mealsense.InferenceResult{}, err
	}
	if result.ModelVersion == "" {
		result.ModelVersion = c.model
	}
	return result, nil
}
