package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	// Register decoders for the captionable formats.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/sashabaranov/go-openai"
	_ "golang.org/x/image/webp"
)

const captionPrompt = "Describe this image in one or two short sentences for search indexing. " +
	"Mention the main subjects, setting, colors and any visible text. Do not speculate."

// CaptionableMimeTypes lists the image types the captioning model accepts.
var CaptionableMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// CaptionService generates a natural language description of an image.
type CaptionService interface {
	Caption(ctx context.Context, image []byte, mimeType string) (string, error)
	// Model returns the captioning model name recorded with each caption.
	Model() string
}

type captionService struct {
	client  *openai.Client
	model   string
	maxEdge int
}

// NewCaptionService creates a CaptionService backed by an OpenAI compatible vision model.
func NewCaptionService(cfg *CaptionConfig, provider string) (CaptionService, error) {
	clientConfig, err := newClientConfig(provider, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	maxEdge := cfg.MaxEdge
	if maxEdge <= 0 {
		maxEdge = 1024
	}
	return &captionService{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		maxEdge: maxEdge,
	}, nil
}

func (s *captionService) Caption(ctx context.Context, data []byte, mimeType string) (string, error) {
	if !CaptionableMimeTypes[mimeType] {
		return "", fmt.Errorf("unsupported caption mime type: %s", mimeType)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("empty image")
	}

	payload, payloadType := prepareImage(data, mimeType, s.maxEdge)
	dataURI := "data:" + payloadType + ";base64," + base64.StdEncoding.EncodeToString(payload)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: captionPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
						URL:    dataURI,
						Detail: openai.ImageURLDetailLow,
					}},
				},
			},
		},
		MaxTokens:   120,
		Temperature: 0.2,
	})
	if err != nil {
		return "", fmt.Errorf("create caption failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty caption response")
	}

	caption := strings.TrimSpace(resp.Choices[0].Message.Content)
	if caption == "" {
		return "", fmt.Errorf("empty caption")
	}
	return caption, nil
}

func (s *captionService) Model() string {
	return s.model
}

// prepareImage downsizes images larger than maxEdge and re-encodes them as JPEG.
// Images that cannot be decoded are returned unchanged.
func prepareImage(data []byte, mimeType string, maxEdge int) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, mimeType
	}
	bounds := img.Bounds()
	if bounds.Dx() <= maxEdge && bounds.Dy() <= maxEdge {
		return data, mimeType
	}

	resized := imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return data, mimeType
	}
	return buf.Bytes(), "image/jpeg"
}
