package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// OpenAI implements the Scanner interface against an OpenAI-compatible
// chat completions endpoint
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	cache      Cache
}

// NewOpenAI creates a new OpenAI Scanner instance. cache may be nil.
func NewOpenAI(baseURL, apiKey, modelName string, cache Cache) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if modelName == "" {
		modelName = "chatgpt-4o-latest"
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      modelName,
		maxTokens:  300,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		cache:      cache,
	}, nil
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIRequest struct {
	Model          string            `json:"model"`
	ResponseFormat map[string]string `json:"response_format"`
	Messages       []openAIMessage   `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
}

// ScanReceipt sends all pages with the variant prompt as one chat completion
func (o *OpenAI) ScanReceipt(ctx context.Context, req ScanRequest) (*ReceiptData, error) {
	prompt, err := promptText(req.Variant, req.CustomPrompt)
	if err != nil {
		return nil, err
	}
	images, err := prepareImages(req.Files)
	if err != nil {
		return nil, err
	}

	content := []openAIContentPart{{Type: "text", Text: prompt}}
	for _, img := range images {
		content = append(content, openAIContentPart{
			Type:     "image_url",
			ImageURL: &openAIImageURL{URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)},
		})
	}

	body := openAIRequest{
		Model:          o.model,
		ResponseFormat: map[string]string{"type": "json_object"},
		Messages: []openAIMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: content},
		},
		MaxTokens: o.maxTokens,
	}

	start := time.Now()
	slog.Info("llm.extract.start",
		"model", o.model,
		"variant", req.Variant,
		"images", len(images),
	)

	text, err := cachedCall(o.cache, body, func() (string, error) {
		return o.complete(ctx, body)
	})
	if err != nil {
		slog.Error("llm.extract.http_error",
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, err
	}

	data, err := parseReceiptJSON(text)
	if err != nil {
		slog.Error("llm.extract.parse_error",
			"error", err, "content", text,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}

	slog.Info("llm.extract.ok",
		"has_company", data.CompanyName != nil,
		"has_date", data.Date != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func (o *OpenAI) complete(ctx context.Context, body openAIRequest) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai status %d: %s", resp.StatusCode, string(raw))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return cc.Choices[0].Message.Content, nil
}

// Close is a no-op for the HTTP client
func (o *OpenAI) Close() error {
	return nil
}
