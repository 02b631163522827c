package scanning

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const (
	// DefaultGeminiModel is used when no model name is configured
	DefaultGeminiModel = "gemini-2.5-flash"

	geminiTimeout = 30 * time.Second
)

// Gemini implements Engine using Google Gemini as a transcriber
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini engine
func NewGemini(ctx context.Context, apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SetTemperature(0)

	return &Gemini{client: client, model: model}, nil
}

// Recognize implements Engine
func (g *Gemini) Recognize(ctx context.Context, path string) (*RawOCROutput, error) {
	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("reading image: %w", err))
	}
	pngData, err := toPNG(data, filepath.Ext(path))
	if err != nil {
		return nil, newOCRError(path, err)
	}

	// genai.ImageData takes the format suffix ("png"), not a MIME type
	resp, err := g.model.GenerateContent(ctx,
		genai.ImageData("png", pngData),
		genai.Text(transcriptionPrompt),
	)
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("generating content: %w", err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, newOCRError(path, fmt.Errorf("no response from gemini"))
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	text := stripFences(sb.String())
	return &RawOCROutput{Text: text, Confidence: heuristicConfidence(text)}, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
