package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL    string
	apiKey     string
	textModel  string
	imageModel string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, textModel, imageModel string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		textModel:  textModel,
		imageModel: imageModel,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMIMEType   string       `json:"responseMimeType,omitempty"`
	ResponseModalities []string     `json:"responseModalities,omitempty"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// GenerateJSON sends a prompt requesting structured JSON output and returns
// the raw JSON text. The caller owns shape validation; the service can
// return syntactically valid but semantically incomplete JSON.
func (c *Client) GenerateJSON(ctx context.Context, prompt string) ([]byte, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: &generationConfig{
			ResponseMIMEType: "application/json",
		},
	}

	resp, err := c.generate(ctx, c.textModel, reqBody)
	if err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, &GenerationError{Reason: ReasonEmpty, Detail: "no candidates in response"}
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return []byte(text.String()), nil
}

// ImageRef is one labeled reference image. References are sent to the model
// in order, each label immediately before its image, so identity binds to
// appearance instead of being inferred from prose.
type ImageRef struct {
	Label    string
	Data     []byte
	MimeType string
}

type ImageRequest struct {
	Instruction string
	References  []ImageRef
	AspectRatio string
}

type ImageResult struct {
	Data     []byte
	MimeType string
}

// GenerateImage produces one image from an instruction and an ordered list
// of labeled references. Returns a typed GenerationError when the model
// declines or returns no image data.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	parts := make([]part, 0, len(req.References)*2+1)
	for _, ref := range req.References {
		parts = append(parts, part{Text: ref.Label + ":"})
		parts = append(parts, part{InlineData: &inlineData{
			MimeType: ref.MimeType,
			Data:     base64.StdEncoding.EncodeToString(ref.Data),
		}})
	}
	parts = append(parts, part{Text: req.Instruction})

	reqBody := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: &generationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	if req.AspectRatio != "" {
		reqBody.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: req.AspectRatio}
	}

	resp, err := c.generate(ctx, c.imageModel, reqBody)
	if err != nil {
		return nil, err
	}

	if resp.PromptFeedback.BlockReason != "" {
		return nil, &GenerationError{Reason: ReasonBlocked, Detail: resp.PromptFeedback.BlockReason}
	}
	if len(resp.Candidates) == 0 {
		return nil, &GenerationError{Reason: ReasonEmpty, Detail: "no candidates in response"}
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case "SAFETY", "IMAGE_SAFETY":
		return nil, &GenerationError{Reason: ReasonSafety, Detail: candidate.FinishReason}
	case "RECITATION":
		return nil, &GenerationError{Reason: ReasonRecitation, Detail: candidate.FinishReason}
	case "PROHIBITED_CONTENT", "BLOCKLIST":
		return nil, &GenerationError{Reason: ReasonBlocked, Detail: candidate.FinishReason}
	}

	for _, p := range candidate.Content.Parts {
		if p.InlineData == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image data: %w", err)
		}
		return &ImageResult{Data: data, MimeType: p.InlineData.MimeType}, nil
	}

	return nil, &GenerationError{Reason: ReasonEmpty, Detail: "response contained no image data"}
}

func (c *Client) generate(ctx context.Context, model string, reqBody generateRequest) (*generateResponse, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("x-goog-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result generateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
	}

	return &result, nil
}
