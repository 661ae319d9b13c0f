package usecase

import (
	"regexp"
	"strings"

	"memvault/internal/domain"
)

// RecallMarker tags text that was injected from a previous recall. Hosts
// must prefix recalled content with it; the evaluator rejects marked text
// outright so recalled memories are never re-captured in a feedback loop.
const RecallMarker = "[memvault:recalled]"

// Capture text length bounds. Shorter texts carry no durable signal;
// longer ones are almost always pasted content.
const (
	captureMinLen = 20
	captureMaxLen = 2000
)

// CaptureResult is the outcome of evaluating text for capture-worthiness.
// The acceptance threshold, per-turn cap, and dedup enforcement belong to
// the caller.
type CaptureResult struct {
	Score    float64
	Category domain.Category
}

// captureRule is one weighted signal. Every matching rule contributes its
// weight; the category comes from the highest-weight match, first rule
// winning ties.
type captureRule struct {
	name     string
	pattern  *regexp.Regexp
	weight   float64
	category domain.Category
}

var captureRules = []captureRule{
	{
		name:     "explicit memory request",
		pattern:  regexp.MustCompile(`(?i)\b(remember (that|this|my)|don't forget|keep in mind|note (that|this) for later)\b`),
		weight:   0.5,
		category: domain.CategoryPreference,
	},
	{
		name:     "personal info",
		pattern:  regexp.MustCompile(`(?i)\b(my name is|i am from|i live in|i work (at|for|as)|my (wife|husband|partner|birthday|timezone|email|phone|address) is)\b`),
		weight:   0.3,
		category: domain.CategoryPreference,
	},
	{
		name:     "structured data",
		pattern:  regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+|\+?\d[\d\s().-]{7,}\d|\b\d{4}-\d{2}-\d{2}\b`),
		weight:   0.3,
		category: domain.CategoryEntity,
	},
	{
		name:     "technical decision",
		pattern:  regexp.MustCompile(`(?i)\b(we (decided|chose|agreed)|decision:|decided to (use|go with|adopt)|let's (use|go with)|switching (to|from))\b`),
		weight:   0.3,
		category: domain.CategoryDecision,
	},
	{
		name:     "preference language",
		pattern:  regexp.MustCompile(`(?i)\b(i (prefer|like|love|hate|always|never|usually)|rather than|instead of|my favou?rite)\b`),
		weight:   0.2,
		category: domain.CategoryPreference,
	},
}

var markdownHeaderRe = regexp.MustCompile(`(?m)^#{1,6}\s`)

// EvaluateCapture scores text for capture-worthiness. Pure function: no
// storage, no dedup. Rejected text scores 0 with category "other".
func EvaluateCapture(text string) CaptureResult {
	rejected := CaptureResult{Score: 0, Category: domain.CategoryOther}

	trimmed := strings.TrimSpace(text)
	if len(trimmed) < captureMinLen || len(trimmed) > captureMaxLen {
		return rejected
	}
	// Never re-capture content that was itself recalled from the vault.
	if strings.Contains(trimmed, RecallMarker) {
		return rejected
	}

	var (
		score      float64
		bestWeight float64
		category   = domain.CategoryOther
	)
	for _, rule := range captureRules {
		if !rule.pattern.MatchString(trimmed) {
			continue
		}
		score += rule.weight
		if rule.weight > bestWeight {
			bestWeight = rule.weight
			category = rule.category
		}
	}

	// Code-heavy or heavily structured text is usually pasted material,
	// not conversational signal. A fence is a complete ``` pair, so the
	// penalty starts at two fenced blocks.
	if strings.Count(trimmed, "```")/2 >= 2 {
		score -= 0.3
	}
	if len(markdownHeaderRe.FindAllStringIndex(trimmed, -1)) >= 3 {
		score -= 0.2
	}

	if score < 0 {
		score = 0
	}
	if score == 0 {
		category = domain.CategoryOther
	}
	return CaptureResult{Score: score, Category: category}
}
