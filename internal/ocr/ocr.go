package ocr

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/config"
	"github.com/sells-group/petscan/pkg/anthropic"
)

// Service turns a label image into raw text. Implementations do not retry.
type Service interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
}

// labelPrompt is shared by the LLM-backed providers.
const labelPrompt = `Transcribe every word printed on this pet food label exactly as written, ` +
	`preserving line breaks and the punctuation between ingredients. ` +
	`Reply with the transcription only. If the image contains no readable text, reply with nothing.`

// NewService creates the OCR backend selected by cfg.OCR.Provider.
func NewService(ctx context.Context, cfg *config.Config) (Service, error) {
	switch cfg.OCR.Provider {
	case "tesseract", "":
		return NewTesseract(cfg.OCR.TesseractPath), nil
	case "mistral":
		if cfg.OCR.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires ocr.mistral_key")
		}
		return NewMistralOCR(cfg.OCR.MistralKey, cfg.OCR.MistralModel, cfg.OCR.MistralEndpoint), nil
	case "anthropic":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("ocr: anthropic provider requires anthropic.key")
		}
		return NewAnthropicOCR(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model, cfg.Anthropic.MaxTokens), nil
	case "gemini":
		if cfg.Gemini.ProjectID == "" {
			return nil, eris.New("ocr: gemini provider requires gemini.project_id")
		}
		return NewGeminiOCR(ctx, cfg.Gemini)
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.OCR.Provider)
	}
}

// imageFormat sniffs the image subtype ("jpeg", "png", ...), defaulting to
// jpeg for anything unrecognized since phone cameras produce it.
func imageFormat(image []byte) string {
	ct := http.DetectContentType(image)
	switch ct {
	case "image/png", "image/gif", "image/webp", "image/jpeg":
		return strings.TrimPrefix(ct, "image/")
	default:
		return "jpeg"
	}
}
