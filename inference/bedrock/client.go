// Package bedrock runs meal inference through the AWS Bedrock Converse API.
package bedrock

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"mealsense"
	"mealsense/inference"
)

const (
	// defaultModelID is an inference profile ID, not the foundation model's ID.
	// See https://docs.aws.amazon.com/bedrock/latest/userguide/inference-profiles.html.
	defaultModelID = "us.anthropic.claude-3-7-sonnet-20250219-v1:0"

	// 1k tokens covers a typical multi-item meal response with headroom.
	defaultMaxTokens = 1024

	// Low temperature and top_p keep the JSON output deterministic.
	defaultTemperature = 0.2
	defaultTopP        = 0.9
)

type bedrockRuntimeClient interface {
	Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

type Options struct {
	ModelID     string
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// Client implements mealsense.InferenceAdapter on Bedrock. Vision requests
// attach the photo as an image block; text requests send the description
// alone. The client does not retry; that is the retry policy's job.
type Client struct {
	brc  bedrockRuntimeClient
	opts Options
}

var _ mealsense.InferenceAdapter = (*Client)(nil)

func NewClient(brc bedrockRuntimeClient, opts Options) *Client {
	if opts.ModelID == "" {
		opts.ModelID = defaultModelID
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP == 0 {
		opts.TopP = defaultTopP
	}
	return &Client{brc: brc, opts: opts}
}

func (c *Client) Analyze(ctx context.Context, req mealsense.InferenceRequest) (mealsense.InferenceResult, error) {
	slog.Info("BEDROCK: Analyze invoked", "user_id", req.UserID, "quota_type", req.QuotaType())

	userMsg := types.Message{Role: types.ConversationRoleUser}
	userMsg.Content = append(userMsg.Content, &types.ContentBlockMemberText{Value: inference.BuildPrompt(req)})

	if len(req.ImageData) > 0 {
		userMsg.Content = append(userMsg.Content, &types.ContentBlockMemberImage{
			Value: types.ImageBlock{
				Format: imageFormat(req.ImageFormat),
				Source: &types.ImageSourceMemberBytes{Value: req.ImageData},
			},
		})
	}

	in := &bedrockruntime.ConverseInput{
		ModelId:  &c.opts.ModelID,
		System:   []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: inference.SystemPrompt()}},
		Messages: []types.Message{userMsg},
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens:   aws.Int32(c.opts.MaxTokens),
			Temperature: aws.Float32(c.opts.Temperature),
			TopP:        aws.Float32(c.opts.TopP),
		},
	}

	out, err := c.brc.Converse(ctx, in)
	if err != nil {
		slog.Error("BEDROCK: Converse failed", "error", err)
		return mealsense.InferenceResult{}, err
	}

	slog.Info("BEDROCK: Converse succeeded",
		"stop_reason", out.StopReason,
		"latency_ms", aws.ToInt64(out.Metrics.LatencyMs),
		"input_tokens", aws.ToInt32(out.Usage.InputTokens),
		"output_tokens", aws.ToInt32(out.Usage.OutputTokens),
	)

	switch out.StopReason {
	case "end_turn", "stop_sequence":
		// proceed to parse below

	case "max_tokens":
		slog.Warn("BEDROCK: Model hit MaxTokens limit; consider increasing MaxTokens")
		return mealsense.InferenceResult{}, fmt.Errorf("model hit MaxTokens limit")

	case "safety", "content_filtered":
		slog.Warn("BEDROCK: Model response blocked by Bedrock safety filters")
		return mealsense.InferenceResult{}, fmt.Errorf("model response blocked by Bedrock safety filters")
	}

	text := textFromOutput(out)
	result, err := inference.Parse(text)
	if err != nil {
		return mealsense.InferenceResult{}, err
	}
	if result.ModelVersion == "" {
		result.ModelVersion = c.opts.ModelID
	}
	return result, nil
}

func imageFormat(format string) types.ImageFormat {
	switch strings.ToLower(format) {
	case "png":
		return types.ImageFormatPng
	case "gif":
		return types.ImageFormatGif
	case "webp":
		return types.ImageFormatWebp
	default:
		return types.ImageFormatJpeg
	}
}

// textFromOutput joins the assistant's text blocks, preferring the last
// block that looks like a single JSON object.
func textFromOutput(out *bedrockruntime.ConverseOutput) string {
	if out == nil || out.Output == nil {
		return ""
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok || msg == nil || len(msg.Value.Content) == 0 {
		return ""
	}

	texts := make([]string, 0, len(msg.Value.Content))
	for _, cb := range msg.Value.Content {
		if t, ok := cb.(*types.ContentBlockMemberText); ok && t != nil && t.Value != "" {
			texts = append(texts, t.Value)
		}
	}
	if len(texts) == 0 {
		return ""
	}

	for i := len(texts) - 1; i >= 0; i-- {
		s := strings.TrimSpace(texts[i])
		if len(s) > 1 && s[0] == '{' && s[len(s)-1] == '}' {
			return s
		}
	}
	return strings.Join(texts, "\n")
}
