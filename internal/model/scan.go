package model

import "time"

// ScanStatus represents the lifecycle state of a label scan.
type ScanStatus string

const (
	ScanStatusPending    ScanStatus = "pending"
	ScanStatusProcessing ScanStatus = "processing"
	ScanStatusAnalyzing  ScanStatus = "analyzing"
	ScanStatusCompleted  ScanStatus = "completed"
	ScanStatusFailed     ScanStatus = "failed"
	ScanStatusCancelled  ScanStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s ScanStatus) IsTerminal() bool {
	switch s {
	case ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s ScanStatus) Valid() bool {
	switch s {
	case ScanStatusPending, ScanStatusProcessing, ScanStatusAnalyzing,
		ScanStatusCompleted, ScanStatusFailed, ScanStatusCancelled:
		return true
	default:
		return false
	}
}

// ScanRequest is what a caller submits to start a scan. Image is held in
// memory only and is never serialized.
type ScanRequest struct {
	UserID           string   `json:"userId,omitempty"`
	PetID            string   `json:"petId" validate:"required"`
	Image            []byte   `json:"-" validate:"required,min=1"`
	CapturedImageRef string   `json:"capturedImageRef,omitempty"`
	ProductNameHint  *string  `json:"productNameHint,omitempty"`
	BrandHint        *string  `json:"brandHint,omitempty"`
	ServingSizeG     *float64 `json:"servingSizeG,omitempty" validate:"omitempty,gt=0"`
}

// ExtractedText is the OCR output for one scan.
type ExtractedText struct {
	RawText string   `json:"rawText"`
	Tokens  []string `json:"tokens"`
}

// ScanResult is the safety verdict derived from a completed analysis.
type ScanResult struct {
	ProductName       string            `json:"productName"`
	Brand             string            `json:"brand"`
	IngredientsFound  []string          `json:"ingredientsFound"`
	UnsafeIngredients []string          `json:"unsafeIngredients"`
	SafeIngredients   []string          `json:"safeIngredients"`
	OverallSafety     SafetyLevel       `json:"overallSafety"`
	ConfidenceScore   float64           `json:"confidenceScore"`
	AnalysisDetails   map[string]string `json:"analysisDetails"`
}

// Scan is the record owned by a scan controller.
type Scan struct {
	ID                  string               `json:"id"`
	UserID              string               `json:"userId,omitempty"`
	PetID               string               `json:"petId"`
	ImageRef            string               `json:"imageRef,omitempty"`
	RawText             string               `json:"rawText,omitempty"`
	Status              ScanStatus           `json:"status"`
	Result              *ScanResult          `json:"result,omitempty"`
	NutritionalAnalysis *NutritionalAnalysis `json:"nutritionalAnalysis,omitempty"`
	Error               string               `json:"error,omitempty"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// ScanOutcome pairs the verdict and the nutrition breakdown of a completed scan.
type ScanOutcome struct {
	ScanID              string               `json:"scanId"`
	Result              *ScanResult          `json:"result"`
	NutritionalAnalysis *NutritionalAnalysis `json:"nutritionalAnalysis,omitempty"`
}

// Event describes one status transition of a scan.
type Event struct {
	ScanID string     `json:"scanId"`
	PetID  string     `json:"petId"`
	From   ScanStatus `json:"from,omitempty"`
	To     ScanStatus `json:"to"`
	Error  string     `json:"error,omitempty"`
	At     time.Time  `json:"at"`
}
