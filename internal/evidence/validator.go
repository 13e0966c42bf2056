// Package evidence scores uploaded evidence files and stores their bytes.
//
// The validator ("Approach B") is a deterministic, additive heuristic over the
// upload metadata: MIME type, size, filename keywords, and the presence of
// reference image directories. It never reads the blob, so the same metadata
// and the same reference-directory listing always produce the same result.
package evidence

import (
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbourn/go-support-agent/internal/domain"
)

// Approach identifies the validation method recorded with every result.
const Approach = "B"

// MaxSizeBytes is the largest evidence file accepted.
const MaxSizeBytes int64 = 10_000_000

// MinPhotoBytes is the size from which a file is considered a real photo.
const MinPhotoBytes int64 = 15_000

// Reason strings recorded with results.
const (
	ReasonImageMIME     = "Image MIME type accepted"
	ReasonSize          = "File size suggests non-empty evidence"
	ReasonFilename      = "Filename indicates defect context"
	ReasonReferenceDirs = "Reference catalog and anomaly directories detected"
	ReasonTooLow        = "Evidence quality too low for validation"
	ReasonTooLarge      = "File exceeds maximum evidence size"
	ReasonSufficient    = "Evidence considered sufficient for policy requirement"
)

var (
	baseScore      = decimal.RequireFromString("0.10")
	mimeBoost      = decimal.RequireFromString("0.30")
	sizeBoost      = decimal.RequireFromString("0.25")
	filenameBoost  = decimal.RequireFromString("0.25")
	referenceBoost = decimal.RequireFromString("0.10")
	maxConfidence  = decimal.RequireFromString("0.99")

	// DefaultPassThreshold is the confidence at which evidence passes.
	DefaultPassThreshold = decimal.RequireFromString("0.600")
)

var acceptedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/gif":  true,
}

var defectKeywords = []string{"damage", "broken", "crack", "defect", "leak", "dent", "scratch", "shatter"}

// Result is a validation outcome.
type Result struct {
	Passed     bool            `json:"passed"`
	Confidence decimal.Decimal `json:"confidence"`
	Reasons    []string        `json:"reasons"`
	Approach   string          `json:"approach"`
}

// Validator scores evidence records. It holds no mutable state and is safe
// for concurrent use.
type Validator struct {
	CatalogDir    string
	AnomalyDir    string
	PassThreshold decimal.Decimal
}

// NewValidator returns a validator. A zero threshold selects
// DefaultPassThreshold.
func NewValidator(catalogDir, anomalyDir string, threshold decimal.Decimal) *Validator {
	if threshold.IsZero() {
		threshold = DefaultPassThreshold
	}
	return &Validator{CatalogDir: catalogDir, AnomalyDir: anomalyDir, PassThreshold: threshold}
}

// Validate scores rec for the given order item. orderID and itemID scope the
// stored result; they do not change the score.
func (v *Validator) Validate(rec domain.EvidenceRecord, orderID, itemID string) Result {
	if rec.SizeBytes > MaxSizeBytes {
		return Result{
			Passed:     false,
			Confidence: decimal.Zero.Round(3),
			Reasons:    []string{ReasonTooLarge},
			Approach:   Approach,
		}
	}

	score := baseScore
	var reasons []string

	if acceptedMIME[strings.ToLower(strings.TrimSpace(rec.MimeType))] {
		score = score.Add(mimeBoost)
		reasons = append(reasons, ReasonImageMIME)
	}
	if rec.SizeBytes >= MinPhotoBytes {
		score = score.Add(sizeBoost)
		reasons = append(reasons, ReasonSize)
	}
	if hasDefectKeyword(rec.FileName) {
		score = score.Add(filenameBoost)
		reasons = append(reasons, ReasonFilename)
	}
	if v.referencesAvailable() {
		score = score.Add(referenceBoost)
		reasons = append(reasons, ReasonReferenceDirs)
	}
	if len(reasons) == 0 {
		reasons = append(reasons, ReasonTooLow)
	}

	confidence := decimal.Min(maxConfidence, score).Round(3)
	threshold := v.PassThreshold
	if threshold.IsZero() {
		threshold = DefaultPassThreshold
	}
	passed := confidence.GreaterThanOrEqual(threshold)
	if passed {
		reasons = append(reasons, ReasonSufficient)
	}
	return Result{Passed: passed, Confidence: confidence, Reasons: reasons, Approach: Approach}
}

func hasDefectKeyword(name string) bool {
	n := strings.ToLower(name)
	for _, k := range defectKeywords {
		if strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// referencesAvailable reports whether both reference directories are
// configured, exist, and contain at least one entry.
func (v *Validator) referencesAvailable() bool {
	return nonEmptyDir(v.CatalogDir) && nonEmptyDir(v.AnomalyDir)
}

func nonEmptyDir(path string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	names, err := f.Readdirnames(1)
	return err == nil && len(names) > 0
}
