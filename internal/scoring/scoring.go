// Package scoring turns a resume and a job description into an analysis score.
package scoring

import (
	"context"
	"log/slog"
	"math"
	"os"
)

// Input is what a Scorer needs. Identifiers are informational only.
type Input struct {
	DraftID        string
	ResumeText     string
	JobDescription string
	UserID         string
	SessionID      string
}

// Result is a scored analysis. Scores are always within [0,100].
type Result struct {
	ATSScore      int            `json:"atsScore"`
	MatchScore    int            `json:"matchScore"`
	MissingSkills []string       `json:"missingSkills"`
	PanelsAllowed []string       `json:"panelsAllowed"`
	ParsingMeta   map[string]any `json:"parsingMeta"`
	KeywordHits   map[string]any `json:"keywordHits"`
}

// Scorer is the pluggable scoring capability.
type Scorer interface {
	Score(ctx context.Context, in Input) (Result, error)
}

// DefaultPanel is granted when a remote result names no panels.
const DefaultPanel = "ATS"

// package-level logger for scoring; can be replaced by callers
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger sets the logger used by the scoring package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// roundTo rounds half away from zero to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}
