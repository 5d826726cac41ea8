// Package ai asks multimodal models for a rights risk assessment of an
// uploaded image.
package ai

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sync"
)

//go:embed prompts/risk.txt
var riskPrompt string

// ErrInvalidAssessment is returned when a model answer parses but is not a valid assessment.
var ErrInvalidAssessment = errors.New("invalid risk assessment")

// RiskLabel is the coarse risk bucket.
type RiskLabel string

const (
	RiskLow    RiskLabel = "low"
	RiskMedium RiskLabel = "medium"
	RiskHigh   RiskLabel = "high"
)

// RiskAssessment is a classifier verdict on one image.
type RiskAssessment struct {
	Label       RiskLabel `json:"label"`
	Confidence  float64   `json:"confidence"`
	AIGenerated bool      `json:"ai_generated"`
	Reasons     []string  `json:"reasons,omitempty"`
	Provider    string    `json:"provider,omitempty"`
}

func (r *RiskAssessment) validate() error {
	switch r.Label {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: label %q", ErrInvalidAssessment, r.Label)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidAssessment, r.Confidence)
	}
	return nil
}

// ImageInfo gives the model context about the upload.
type ImageInfo struct {
	FileName    string
	Width       int
	Height      int
	ContentHash string
}

// Classifier defines the interface for risk classification backends.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, imageData []byte, info *ImageInfo) (*RiskAssessment, error)
	GetUsage() Usage
	ResetUsage()
}

// Usage tracks token usage and calculates cost.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalCost    float64 // in USD
}

// RequestPricing holds input/output prices per 1M tokens
type RequestPricing struct {
	Input  float64
	Output float64
}

// usageTracker is embedded by providers. Classify may run concurrently.
type usageTracker struct {
	mu      sync.Mutex
	usage   Usage
	pricing RequestPricing
}

func (u *usageTracker) track(inputTokens, outputTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.InputTokens += inputTokens
	u.usage.OutputTokens += outputTokens
	u.usage.TotalCost += float64(inputTokens) / 1_000_000 * u.pricing.Input
	u.usage.TotalCost += float64(outputTokens) / 1_000_000 * u.pricing.Output
}

func (u *usageTracker) GetUsage() Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

func (u *usageTracker) ResetUsage() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage = Usage{}
}
