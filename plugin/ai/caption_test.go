package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestPrepareImage(t *testing.T) {
	small := encodePNG(t, 16, 8)
	out, mimeType := prepareImage(small, "image/png", 32)
	assert.Equal(t, small, out)
	assert.Equal(t, "image/png", mimeType)

	large := encodePNG(t, 64, 32)
	out, mimeType = prepareImage(large, "image/png", 32)
	assert.Equal(t, "image/jpeg", mimeType)
	decoded, _, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 32, decoded.Bounds().Dx())
	assert.Equal(t, 16, decoded.Bounds().Dy())

	garbage := []byte("not an image")
	out, mimeType = prepareImage(garbage, "image/webp", 32)
	assert.Equal(t, garbage, out)
	assert.Equal(t, "image/webp", mimeType)
}

func TestCaptionService_Caption(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)

		var req map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		raw, _ := json.Marshal(req["messages"])
		assert.True(t, strings.Contains(string(raw), "data:image/png;base64,"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "  A red square.  "},
			}},
		})
	}))
	defer server.Close()

	svc, err := NewCaptionService(&CaptionConfig{Model: "gpt-4o-mini", APIKey: "k", BaseURL: server.URL + "/v1"}, "openai")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", svc.Model())

	caption, err := svc.Caption(context.Background(), encodePNG(t, 8, 8), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "A red square.", caption)
}

func TestCaptionService_RejectsUnsupportedType(t *testing.T) {
	svc, err := NewCaptionService(&CaptionConfig{Model: "gpt-4o-mini", APIKey: "k"}, "openai")
	require.NoError(t, err)

	_, err = svc.Caption(context.Background(), []byte("%PDF"), "application/pdf")
	assert.Error(t, err)
}
