package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybook-backend/internal/gemini"
)

func newTestClient(handler http.HandlerFunc) (*gemini.Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := gemini.NewClient(server.URL, "test-key", "text-model", "image-model")
	return client, server
}

func textResponse(text string) string {
	return fmt.Sprintf(`{"candidates": [{"content": {"parts": [{"text": %q}]}}]}`, text)
}

func imageResponse(data []byte) string {
	return fmt.Sprintf(`{"candidates": [{"content": {"parts": [{"inlineData": {"mimeType": "image/png", "data": %q}}]}}]}`,
		base64.StdEncoding.EncodeToString(data))
}

func TestGenerateJSON(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]interface{}
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, textResponse(`{"ok": true}`))
	})
	defer server.Close()

	raw, err := client.GenerateJSON(context.Background(), "list the characters")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))

	assert.Equal(t, "/models/text-model:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)

	cfg := gotBody["generationConfig"].(map[string]interface{})
	assert.Equal(t, "application/json", cfg["responseMimeType"])
}

func TestGenerateJSON_EmptyResponse(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"candidates": []}`)
	})
	defer server.Close()

	_, err := client.GenerateJSON(context.Background(), "prompt")
	var genErr *gemini.GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, gemini.ReasonEmpty, genErr.Reason)
}

func TestGenerateImage(t *testing.T) {
	img := []byte{0x89, 0x50, 0x4e, 0x47}
	var gotBody struct {
		Contents []struct {
			Parts []map[string]interface{} `json:"parts"`
		} `json:"contents"`
		GenerationConfig struct {
			ResponseModalities []string               `json:"responseModalities"`
			ImageConfig        map[string]interface{} `json:"imageConfig"`
		} `json:"generationConfig"`
	}
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, imageResponse(img))
	})
	defer server.Close()

	result, err := client.GenerateImage(context.Background(), gemini.ImageRequest{
		Instruction: "draw the scene",
		References: []gemini.ImageRef{
			{Label: "MASTER STYLE ANCHOR", Data: []byte("anchor"), MimeType: "image/png"},
		},
		AspectRatio: "4:3",
	})
	require.NoError(t, err)
	assert.Equal(t, img, result.Data)
	assert.Equal(t, "image/png", result.MimeType)

	// Label text precedes its image part; the instruction comes last.
	parts := gotBody.Contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "MASTER STYLE ANCHOR:", parts[0]["text"])
	assert.NotNil(t, parts[1]["inlineData"])
	assert.Equal(t, "draw the scene", parts[2]["text"])

	assert.Equal(t, []string{"IMAGE"}, gotBody.GenerationConfig.ResponseModalities)
	assert.Equal(t, "4:3", gotBody.GenerationConfig.ImageConfig["aspectRatio"])
}

func TestGenerateImage_TerminalReasons(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason gemini.Reason
	}{
		{"safety finish", `{"candidates": [{"finishReason": "IMAGE_SAFETY"}]}`, gemini.ReasonSafety},
		{"recitation", `{"candidates": [{"finishReason": "RECITATION"}]}`, gemini.ReasonRecitation},
		{"blocklist", `{"candidates": [{"finishReason": "BLOCKLIST"}]}`, gemini.ReasonBlocked},
		{"prompt blocked", `{"promptFeedback": {"blockReason": "SAFETY"}}`, gemini.ReasonBlocked},
		{"no image data", `{"candidates": [{"content": {"parts": [{"text": "sorry"}]}}]}`, gemini.ReasonEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			})
			defer server.Close()

			_, err := client.GenerateImage(context.Background(), gemini.ImageRequest{Instruction: "draw"})
			var genErr *gemini.GenerationError
			require.ErrorAs(t, err, &genErr)
			assert.Equal(t, tt.reason, genErr.Reason)
		})
	}
}

func TestIsTransient(t *testing.T) {
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error": "try later"}`)
	})
	defer server.Close()

	_, err := client.GenerateJSON(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, gemini.IsTransient(err))
}

func TestIsTransient_TerminalCases(t *testing.T) {
	assert.False(t, gemini.IsTransient(&gemini.GenerationError{Reason: gemini.ReasonSafety}))
	assert.False(t, gemini.IsTransient(fmt.Errorf("invalid request")))
	assert.True(t, gemini.IsTransient(fmt.Errorf("the model is overloaded")))
	assert.True(t, gemini.IsTransient(fmt.Errorf("RESOURCE_EXHAUSTED: quota")))
}

func TestRetryTransient(t *testing.T) {
	attempts := 0
	client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, textResponse("ok"))
	})
	defer server.Close()

	err := gemini.RetryTransient(context.Background(), func() error {
		_, err := client.GenerateJSON(context.Background(), "prompt")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryTransient_NoRetryOnTerminal(t *testing.T) {
	attempts := 0
	err := gemini.RetryTransient(context.Background(), func() error {
		attempts++
		return &gemini.GenerationError{Reason: gemini.ReasonSafety, Detail: "SAFETY"}
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryTransient_SingleRetryOnly(t *testing.T) {
	attempts := 0
	err := gemini.RetryTransient(context.Background(), func() error {
		attempts++
		return fmt.Errorf("rate limit exceeded")
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
}
