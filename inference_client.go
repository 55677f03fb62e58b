package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go-document-verifier/images"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// InferenceClient is the single I/O boundary to the remote multimodal
// inference service. Exactly one request is sent per verification attempt;
// network, auth and empty-completion failures all surface as errors that
// the session layer collapses into one generic message for the user.
type InferenceClient interface {
	// ExtractDocument sends the instruction text plus the encoded image to
	// the model and returns the raw textual completion.
	ExtractDocument(ctx context.Context, instruction string, img images.EncodedImage) (string, error)
}

// GeminiInferenceClient implements InferenceClient against the Gemini API.
type GeminiInferenceClient struct {
	apiKey  string
	model   string
	timeout time.Duration
}

// NewGeminiInferenceClient creates a client for the given model id. The API
// key is not validated here; an absent or invalid key surfaces as an
// inference failure on first use.
func NewGeminiInferenceClient(apiKey, model string, timeout time.Duration) *GeminiInferenceClient {
	return &GeminiInferenceClient{
		apiKey:  strings.TrimSpace(apiKey),
		model:   strings.TrimSpace(model),
		timeout: timeout,
	}
}

func (c *GeminiInferenceClient) ExtractDocument(ctx context.Context, instruction string, img images.EncodedImage) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY is empty")
	}

	imgBytes, err := images.Decode(img)
	if err != nil {
		return "", fmt.Errorf("failed to decode image payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("failed to create inference client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(c.model)
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: ptrFloat32(0),
	}

	slog.Debug("Sending extraction request", "model", c.model, "mime_type", img.MIMEType, "payload_size", len(imgBytes))

	resp, err := model.GenerateContent(ctx,
		genai.Text(instruction),
		&genai.Blob{MIMEType: img.MIMEType, Data: imgBytes},
	)
	if err != nil {
		return "", fmt.Errorf("inference request failed: %w", err)
	}

	completion := firstText(resp)
	if strings.TrimSpace(completion) == "" {
		return "", fmt.Errorf("inference returned an empty completion")
	}

	slog.Debug("Received completion", "model", c.model, "completion_size", len(completion))
	return completion, nil
}

// firstText returns the first text part of the first candidate that has one.
func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

func ptrFloat32(v float32) *float32 { return &v }
