package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	model     *genai.GenerativeModel
	modelName string
	cache     Cache
}

// geminiPayload is the cache identity of a Gemini request
type geminiPayload struct {
	Provider string   `json:"provider"`
	Model    string   `json:"model"`
	System   string   `json:"system"`
	Prompt   string   `json:"prompt"`
	Images   [][]byte `json:"images"`
}

// NewGemini creates a new Gemini Scanner instance. cache may be nil.
func NewGemini(apiKey string, modelName string, cache Cache) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-pro"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		model:     client.GenerativeModel(modelName),
		modelName: modelName,
		cache:     cache,
	}, nil
}

// ScanReceipt sends all pages with the variant prompt to Gemini
func (g *Gemini) ScanReceipt(ctx context.Context, req ScanRequest) (*ReceiptData, error) {
	prompt, err := promptText(req.Variant, req.CustomPrompt)
	if err != nil {
		return nil, err
	}
	images, err := prepareImages(req.Files)
	if err != nil {
		return nil, err
	}

	payload := geminiPayload{
		Provider: "gemini",
		Model:    g.modelName,
		System:   systemPrompt,
		Prompt:   prompt,
		Images:   images,
	}

	text, err := cachedCall(g.cache, payload, func() (string, error) {
		ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
		defer cancel()

		// genai.ImageData takes the format suffix, not the MIME type
		parts := []genai.Part{genai.Text(systemPrompt)}
		for _, img := range images {
			parts = append(parts, genai.ImageData("png", img))
		}
		parts = append(parts, genai.Text(prompt))

		resp, err := g.model.GenerateContent(ctx, parts...)
		if err != nil {
			return "", fmt.Errorf("generating content: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
			return "", fmt.Errorf("no response from gemini")
		}

		var responseText strings.Builder
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				responseText.WriteString(string(text))
			}
		}
		return responseText.String(), nil
	})
	if err != nil {
		return nil, err
	}

	data, err := parseReceiptJSON(text)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return data, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
