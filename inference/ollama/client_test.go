package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mealsense"
)

type stubHTTPClient struct {
	status  int
	body    string
	err     error
	lastReq *http.Request
	lastRaw []byte
}

func (s *stubHTTPClient) Do(req *http.Request) (*http.Response, error) {
	s.lastReq = req
	if req.Body != nil {
		s.lastRaw, _ = io.ReadAll(req.Body)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &http.Response{
		StatusCode: s.status,
		Status:     http.StatusText(s.status),
		Body:       io.NopCloser(bytes.NewBufferString(s.body)),
	}, nil
}

func envelope(content string) string {
	b, _ := json.Marshal(map[string]any{"message": map[string]any{"role": "assistant", "content": content}})
	return string(b)
}

const validResponse = `{
  "items": [
    {"name": "poha", "portion_grams": 150, "calories": 180,
     "macros": {"protein_g": 3.5, "carbs_g": 35.0, "fat_g": 2.5}, "confidence": 0.8}
  ],
  "total_calories": 180
}`

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(ClientOpts{ModelID: "llava"})
	require.Error(t, err)

	_, err = NewClient(ClientOpts{BaseEndpoint: "http://localhost:11434"})
	require.Error(t, err)

	c, err := NewClient(ClientOpts{BaseEndpoint: "http://localhost:11434", ModelID: "llava", HTTPClient: &stubHTTPClient{}})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434/api/chat", c.endpoint)
}

func TestAnalyzeTextRequest(t *testing.T) {
	stub := &stubHTTPClient{status: http.StatusOK, body: envelope(validResponse)}
	c, err := NewClient(ClientOpts{BaseEndpoint: "http://localhost:11434", ModelID: "llama3.2", HTTPClient: stub})
	require.NoError(t, err)

	result, err := c.Analyze(context.Background(), mealsense.InferenceRequest{UserID: "u1", Text: "poha for breakfast"})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "poha", result.Items[0].Name)
	assert.Equal(t, "llama3.2", result.ModelVersion)

	var sent wireRequest
	require.NoError(t, json.Unmarshal(stub.lastRaw, &sent))
	require.Len(t, sent.Messages, 2)
	assert.Equal(t, "system", sent.Messages[0].Role)
	assert.Empty(t, sent.Messages[1].Images)

	// The format field carries the response schema for structured output.
	var format struct {
		Type     string   `json:"type"`
		Required []string `json:"required"`
	}
	require.NoError(t, json.Unmarshal(sent.Format, &format))
	assert.Equal(t, "object", format.Type)
	assert.Contains(t, format.Required, "items")
}

func TestAnalyzeVisionRequestEncodesImage(t *testing.T) {
	stub := &stubHTTPClient{status: http.StatusOK, body: envelope(validResponse)}
	c, err := NewClient(ClientOpts{BaseEndpoint: "http://localhost:11434", ModelID: "llava", HTTPClient: stub})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), mealsense.InferenceRequest{UserID: "u1", ImageData: []byte{0xFF, 0xD8}})
	require.NoError(t, err)

	var sent wireRequest
	require.NoError(t, json.Unmarshal(stub.lastRaw, &sent))
	require.Len(t, sent.Messages[1].Images, 1)
	assert.Equal(t, "/9g=", sent.Messages[1].Images[0])
}

func TestAnalyzeServerError(t *testing.T) {
	stub := &stubHTTPClient{status: http.StatusInternalServerError, body: "boom"}
	c, err := NewClient(ClientOpts{BaseEndpoint: "http://localhost:11434", ModelID: "llava", HTTPClient: stub})
	require.NoError(t, err)

	_, err = c.Analyze(context.Background(), mealsense.InferenceRequest{UserID: "u1", Text: "poha"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
