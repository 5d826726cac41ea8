package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"google.golang.org/genai"
)

const geminiModel = "gemini-2.5-flash"

// GeminiPricing is the gemini-2.5-flash price per 1M tokens.
var GeminiPricing = RequestPricing{Input: 0.30, Output: 2.50}

type GeminiProvider struct {
	usageTracker
	client *genai.Client
}

func NewGeminiProvider(ctx context.Context, apiKey string, pricing RequestPricing) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiProvider{
		usageTracker: usageTracker{pricing: pricing},
		client:       client,
	}, nil
}

func (p *GeminiProvider) Name() string {
	return geminiModel
}

func (p *GeminiProvider) Classify(ctx context.Context, imageData []byte, info *ImageInfo) (*RiskAssessment, error) {
	resizedData, err := ResizeImage(imageData, constants.RiskImageMaxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to resize image: %w", err)
	}

	contents := []*genai.Content{
		{
			Role: "user",
			Parts: []*genai.Part{
				{Text: buildRiskPrompt() + "\n\n" + buildUserMessage(info)},
				{InlineData: &genai.Blob{Data: resizedData, MIMEType: "image/jpeg"}},
			},
		},
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}

	var lastError error
	var lastResponse string

	for range constants.RiskMaxRetries {
		result, err := p.client.Models.GenerateContent(ctx, geminiModel, contents, config)
		if err != nil {
			return nil, fmt.Errorf("gemini API error: %w", err)
		}

		if result.UsageMetadata != nil {
			p.track(int(result.UsageMetadata.PromptTokenCount), int(result.UsageMetadata.CandidatesTokenCount))
		}

		content := result.Text()
		if content == "" {
			return nil, errors.New("no response from Gemini")
		}
		lastResponse = content

		assessment, err := parseAssessment(content)
		if err != nil {
			lastError = err

			contents = append(contents,
				&genai.Content{
					Role:  "model",
					Parts: []*genai.Part{{Text: content}},
				},
				&genai.Content{
					Role:  "user",
					Parts: []*genai.Part{{Text: retryMessage(err)}},
				},
			)
			continue
		}

		assessment.Provider = p.Name()
		return assessment, nil
	}

	return nil, fmt.Errorf("failed to parse risk JSON after %d attempts: %w (last response: %s)", constants.RiskMaxRetries, lastError, lastResponse)
}
