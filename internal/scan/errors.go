package scan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/ocr"
)

// ErrScanNotFound is returned for ids that are neither running nor stored.
var ErrScanNotFound = eris.New("scan: not found")

// InvalidStateError is returned when Start or Cancel is called in a state
// that does not allow it.
type InvalidStateError struct {
	ScanID string
	Status model.ScanStatus
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("scan: cannot %s scan %s in status %s", e.Action, e.ScanID, e.Status)
}

// NotReadyError is returned by GetScanResult for scans that have not
// completed. Status tells the caller whether waiting can help.
type NotReadyError struct {
	ScanID string
	Status model.ScanStatus
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("scan: result for %s not ready (status %s)", e.ScanID, e.Status)
}

// AnalysisFailure wraps an unexpected failure after text extraction.
type AnalysisFailure struct {
	Stage string
	Err   error
}

func (e *AnalysisFailure) Error() string {
	return fmt.Sprintf("scan: %s failed: %v", e.Stage, e.Err)
}

func (e *AnalysisFailure) Unwrap() error {
	return e.Err
}

// InvalidRequestError is returned by SubmitScan when the request fails
// validation.
type InvalidRequestError struct {
	Err error
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("scan: invalid request: %v", e.Err)
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

// UserMessage maps a scan failure to the text shown to the pet owner.
func UserMessage(err error) string {
	var ee *ocr.ExtractionError
	if errors.As(err, &ee) {
		return ee.UserMessage()
	}
	return "something went wrong analyzing this label, try again"
}

// FailureMessage maps a recorded scan error back to the owner-facing text.
func FailureMessage(recorded string) string {
	if strings.HasPrefix(recorded, ocr.ExtractionErrorPrefix) {
		return (&ocr.ExtractionError{}).UserMessage()
	}
	return UserMessage(errors.New(recorded))
}
