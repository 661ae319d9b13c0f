package domain

import "context"

// SanitizeResult is the outcome of running text through a Sanitizer.
type SanitizeResult struct {
	Cleaned string // normalized text safe to store
	Flagged bool   // true if the text must not be stored
	Reason  string // why the text was flagged, empty otherwise
}

// Sanitizer inspects text before storage. Flagged text is never inserted.
type Sanitizer interface {
	Sanitize(ctx context.Context, text string) (SanitizeResult, error)
}
