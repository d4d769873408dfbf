package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/petscan/internal/config"
	"github.com/sells-group/petscan/internal/resilience"
	"github.com/sells-group/petscan/pkg/anthropic"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestNewService(t *testing.T) {
	ctx := context.Background()

	svc, err := NewService(ctx, &config.Config{OCR: config.OCRConfig{Provider: "tesseract", TesseractPath: "/usr/bin/tesseract"}})
	require.NoError(t, err)
	assert.IsType(t, &Tesseract{}, svc)

	svc, err = NewService(ctx, &config.Config{OCR: config.OCRConfig{Provider: "mistral", MistralKey: "k"}})
	require.NoError(t, err)
	assert.IsType(t, &MistralOCR{}, svc)

	svc, err = NewService(ctx, &config.Config{
		OCR:       config.OCRConfig{Provider: "anthropic"},
		Anthropic: config.AnthropicConfig{Key: "k", Model: "claude-haiku-4-5-20251001"},
	})
	require.NoError(t, err)
	assert.IsType(t, &AnthropicOCR{}, svc)
}

func TestNewService_Errors(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		provider string
		want     string
	}{
		{"mistral", "requires ocr.mistral_key"},
		{"anthropic", "requires anthropic.key"},
		{"gemini", "requires gemini.project_id"},
		{"paddle", `unknown provider "paddle"`},
	}
	for _, tt := range tests {
		_, err := NewService(ctx, &config.Config{OCR: config.OCRConfig{Provider: tt.provider}})
		require.Error(t, err, tt.provider)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "png", imageFormat(pngHeader))
	assert.Equal(t, "jpeg", imageFormat([]byte{0xff, 0xd8, 0xff, 0xe0, 0, 0x10}))
	assert.Equal(t, "jpeg", imageFormat([]byte("plain text")))
}

func TestMistralOCR_Defaults(t *testing.T) {
	m := NewMistralOCR("key", "", "")
	assert.Equal(t, defaultMistralModel, m.model)
	assert.Equal(t, mistralOCREndpoint, m.endpoint)
}

func TestMistralOCR_ExtractText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req mistralOCRRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "image_url", req.Document.Type)
		assert.Contains(t, req.Document.ImageURL, "data:image/png;base64,")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(mistralOCRResponse{Pages: []mistralOCRPage{ //nolint:errcheck
			{Index: 0, Markdown: "Ingredients: chicken, rice"},
			{Index: 1, Markdown: "corn"},
		}})
	}))
	defer srv.Close()

	m := NewMistralOCR("test-key", "test-model", srv.URL)
	text, err := m.ExtractText(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "Ingredients: chicken, rice\ncorn", text)
}

func TestMistralOCR_TransientStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewMistralOCR("k", "", srv.URL).ExtractText(context.Background(), pngHeader)
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "503")
}

func TestMistralOCR_PermanentStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewMistralOCR("k", "", srv.URL).ExtractText(context.Background(), pngHeader)
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
}

func TestTesseract_BinPath(t *testing.T) {
	assert.Equal(t, "tesseract", NewTesseract("").binPath)
	assert.Equal(t, "/opt/tesseract", NewTesseract("/opt/tesseract").binPath)
}

func TestTesseract_ExtractText(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	bin := filepath.Join(t.TempDir(), "tesseract")
	script := "#!/bin/sh\ncat > /dev/null\necho 'Chicken, Rice'\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))

	text, err := NewTesseract(bin).ExtractText(context.Background(), []byte("img"))
	require.NoError(t, err)
	assert.Equal(t, "Chicken, Rice\n", text)
}

func TestTesseract_MissingBinary(t *testing.T) {
	_, err := NewTesseract(filepath.Join(t.TempDir(), "nope")).ExtractText(context.Background(), []byte("img"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr: tesseract failed")
}

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestAnthropicOCR_ExtractText(t *testing.T) {
	client := new(mockAnthropic)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" &&
			len(req.Messages) == 1 &&
			len(req.Messages[0].Images) == 1 &&
			req.Messages[0].Images[0].MediaType == "image/png"
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "chicken, rice"}},
	}, nil)

	a := NewAnthropicOCR(client, "claude-haiku-4-5-20251001", 0)
	assert.Equal(t, int64(2048), a.maxTokens)

	text, err := a.ExtractText(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "chicken, rice", text)
	client.AssertExpectations(t)
}

func TestAnthropicOCR_Error(t *testing.T) {
	client := new(mockAnthropic)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("overloaded"))

	_, err := NewAnthropicOCR(client, "m", 100).ExtractText(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr: anthropic vision")
}

type fakeGenerator struct {
	resp  *genai.GenerateContentResponse
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func TestGeminiOCR_ExtractText(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("chicken, "), genai.Text("rice")}},
		}},
	}}
	g := &GeminiOCR{model: gen}

	text, err := g.ExtractText(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "chicken, rice", text)
	require.Len(t, gen.parts, 2)
	blob, ok := gen.parts[1].(genai.Blob)
	require.True(t, ok)
	assert.Equal(t, "image/png", blob.MIMEType)
	assert.NoError(t, g.Close())
}

func TestGeminiOCR_NoCandidates(t *testing.T) {
	g := &GeminiOCR{model: &fakeGenerator{resp: &genai.GenerateContentResponse{}}}
	text, err := g.ExtractText(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestGeminiOCR_Error(t *testing.T) {
	g := &GeminiOCR{model: &fakeGenerator{err: errors.New("quota")}}
	_, err := g.ExtractText(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ocr: gemini generate content")
}
