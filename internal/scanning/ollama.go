package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultOllamaURL is the address of a local Ollama server
	DefaultOllamaURL = "http://localhost:11434"
	// DefaultOllamaModel is a general purpose vision model
	DefaultOllamaModel = "llava"

	ollamaTimeout = 120 * time.Second
)

// Ollama implements Engine using a vision model served by Ollama
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates a new Ollama engine
//
// Vision models that transcribe receipts reasonably well:
//   - llava:1.6
//   - qwen2-vl:7b
//   - llava-phi3 (smaller and faster, less accurate)
func NewOllama(baseURL string, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if modelName == "" {
		modelName = DefaultOllamaModel
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelName,
		client:  &http.Client{Timeout: ollamaTimeout},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Recognize implements Engine
func (o *Ollama) Recognize(ctx context.Context, path string) (*RawOCROutput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("reading image: %w", err))
	}
	pngData, err := toPNG(data, filepath.Ext(path))
	if err != nil {
		return nil, newOCRError(path, err)
	}

	// Ollama's chat API takes images on the message, not the request
	reqBody := ollamaChatRequest{
		Model:  o.model,
		Stream: false,
		Messages: []ollamaMessage{
			{
				Role:    "system",
				Content: "You are an OCR engine. You output the exact text printed on receipts and nothing else.",
			},
			{
				Role:    "user",
				Content: transcriptionPrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
		Options: map[string]any{"temperature": 0},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("marshaling request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, newOCRError(path, fmt.Errorf("calling ollama API: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, newOCRError(path, fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, newOCRError(path, fmt.Errorf("decoding response: %w", err))
	}

	text := stripFences(chatResp.Message.Content)
	return &RawOCROutput{Text: text, Confidence: heuristicConfidence(text)}, nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
