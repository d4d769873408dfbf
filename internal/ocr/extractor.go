// Package ocr extracts label text from captured images and splits it into
// ingredient tokens.
package ocr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/metrics"
	"github.com/sells-group/petscan/internal/model"
)

// Reason classifies why extraction failed.
type Reason string

const (
	ReasonUnavailable Reason = "unavailable"
	ReasonNoText      Reason = "no_text"
)

// ExtractionErrorPrefix starts the message of every ExtractionError.
const ExtractionErrorPrefix = "ocr: could not read label"

// ExtractionError is returned when a label cannot be read, either because
// the backend failed or because the image holds no recognizable text.
type ExtractionError struct {
	Reason Reason
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", ExtractionErrorPrefix, e.Reason)
	}
	return fmt.Sprintf("%s (%s): %v", ExtractionErrorPrefix, e.Reason, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to the pet owner.
func (e *ExtractionError) UserMessage() string {
	return "could not read label, try again"
}

// Extractor wraps an OCR Service with a per-call timeout and tokenization.
type Extractor struct {
	svc      Service
	provider string
	timeout  time.Duration
}

// NewExtractor creates an Extractor. A zero timeout leaves the call bounded
// only by the caller's context.
func NewExtractor(svc Service, provider string, timeout time.Duration) *Extractor {
	return &Extractor{svc: svc, provider: provider, timeout: timeout}
}

// Extract runs OCR on image and tokenizes the result. When ctx itself is
// cancelled the context error is returned unwrapped so the caller can tell
// abandonment from failure.
func (e *Extractor) Extract(ctx context.Context, image []byte) (*model.ExtractedText, error) {
	if len(image) == 0 {
		return nil, e.fail(ReasonNoText, eris.New("ocr: empty image"))
	}

	callCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	raw, err := e.svc.ExtractText(callCtx, image)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, e.fail(ReasonUnavailable, err)
	}

	if strings.TrimSpace(raw) == "" {
		return nil, e.fail(ReasonNoText, nil)
	}
	tokens := Tokenize(raw)
	if len(tokens) == 0 {
		return nil, e.fail(ReasonNoText, nil)
	}

	metrics.OCRCalls.WithLabelValues(e.provider, "ok").Inc()
	return &model.ExtractedText{RawText: raw, Tokens: tokens}, nil
}

func (e *Extractor) fail(reason Reason, err error) error {
	metrics.OCRCalls.WithLabelValues(e.provider, string(reason)).Inc()
	zap.L().Warn("ocr: extraction failed",
		zap.String("provider", e.provider),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return &ExtractionError{Reason: reason, Err: err}
}
