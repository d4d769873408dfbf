package ocr

import (
	"context"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/sells-group/petscan/internal/config"
)

// contentGenerator is the slice of *genai.GenerativeModel the backend uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiOCR transcribes labels with a Gemini model on Vertex AI.
type GeminiOCR struct {
	client *genai.Client
	model  contentGenerator
}

// NewGeminiOCR connects to Vertex AI with optional explicit credentials.
func NewGeminiOCR(ctx context.Context, cfg config.GeminiConfig) (*GeminiOCR, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Location, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create vertex ai client")
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(0)
	return &GeminiOCR{client: client, model: model}, nil
}

// ExtractText sends the prompt and image and joins the text parts of the
// first candidate.
func (g *GeminiOCR) ExtractText(ctx context.Context, image []byte) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(labelPrompt), genai.ImageData(imageFormat(image), image))
	if err != nil {
		return "", eris.Wrap(err, "ocr: gemini generate content")
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

// Close releases the Vertex AI client.
func (g *GeminiOCR) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}
