// Package bedrock adapts AWS Bedrock's InvokeModel API to the
// providers.ExecutorAgent contract: executeSubtask runs one work-breakdown
// item against the target repository context (spec §1 "two language-model
// services", §4.8 step 6).
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	apperrors "github.com/khenson99/ralph-loop-orchestrator-sub000/internal/errors"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers"
	"github.com/khenson99/ralph-loop-orchestrator-sub000/pkg/providers/prompt"
)

// Client wraps a bedrockruntime client bound to one model id.
type Client struct {
	runtime *bedrockruntime.Client
	modelID string
}

// New builds a Client for the given region and model id, loading AWS
// credentials the default way (env, shared config, instance role).
func New(ctx context.Context, region, modelID string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "load AWS config for bedrock")
	}
	return &Client{runtime: bedrockruntime.NewFromConfig(cfg), modelID: modelID}, nil
}

// invokeRequest/invokeResponse mirror the Anthropic-on-Bedrock message body
// shape; the executor model is assumed to speak the same wire format the
// direct Anthropic API does, since Bedrock fronts the same model family.
type invokeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Messages         []invokeMessage `json:"messages"`
}

type invokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type invokeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// ExecuteSubtask runs one subtask attempt through Bedrock and returns its
// output and any code diff it produced.
func (c *Client) ExecuteSubtask(ctx context.Context, input providers.SubtaskInput) (*providers.SubtaskResult, error) {
	text, err := prompt.Subtask(input.Title, input.OwnerRole, input.DefinitionOfDone, input.RepoContext)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "render subtask prompt")
	}

	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        4096,
		Messages:         []invokeMessage{{Role: "user", Content: text}},
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "marshal bedrock invoke request")
	}

	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeNetwork, "bedrock invoke-model failed").WithRetryClass(apperrors.RetryDependency)
	}

	var resp invokeResponse
	if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&resp); err != nil && err != io.EOF {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "decode bedrock invoke response")
	}
	if len(resp.Content) == 0 {
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "bedrock response had no content blocks")
	}

	return &providers.SubtaskResult{Output: resp.Content[0].Text}, nil
}
