package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/pkg/anthropic"
)

// AnthropicOCR transcribes labels with a Claude vision model.
type AnthropicOCR struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicOCR creates an AnthropicOCR backend.
func NewAnthropicOCR(client anthropic.Client, model string, maxTokens int64) *AnthropicOCR {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicOCR{client: client, model: model, maxTokens: maxTokens}
}

// ExtractText sends the image with the transcription prompt.
func (a *AnthropicOCR) ExtractText(ctx context.Context, image []byte) (string, error) {
	temp := 0.0
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: labelPrompt,
			Images:  []anthropic.Image{{MediaType: "image/" + imageFormat(image), Data: image}},
		}},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: anthropic vision")
	}
	resp.Usage.Log(a.model, "ocr")
	return resp.Text(), nil
}
