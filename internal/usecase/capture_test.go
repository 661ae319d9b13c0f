package usecase

import (
	"strings"
	"testing"

	"memvault/internal/domain"
)

func TestEvaluateCapturePreferenceLanguage(t *testing.T) {
	res := EvaluateCapture("I always drink dark roast, never light roast")
	if res.Score < 0.2 {
		t.Errorf("score = %v, want >= 0.2", res.Score)
	}
	if res.Category != domain.CategoryPreference {
		t.Errorf("category = %q, want preference", res.Category)
	}
}

func TestEvaluateCaptureExplicitRequest(t *testing.T) {
	res := EvaluateCapture("Please remember that my API review is every Tuesday")
	if res.Score < 0.5 {
		t.Errorf("score = %v, want >= 0.5", res.Score)
	}
	if res.Category != domain.CategoryPreference {
		t.Errorf("category = %q, want preference", res.Category)
	}
}

func TestEvaluateCaptureTechnicalDecision(t *testing.T) {
	res := EvaluateCapture("We decided to use Postgres for the billing service")
	if res.Score < 0.3 {
		t.Errorf("score = %v, want >= 0.3", res.Score)
	}
	if res.Category != domain.CategoryDecision {
		t.Errorf("category = %q, want decision", res.Category)
	}
}

func TestEvaluateCaptureStructuredData(t *testing.T) {
	res := EvaluateCapture("You can reach the on-call rotation at oncall@example.com anytime")
	if res.Score < 0.3 {
		t.Errorf("score = %v, want >= 0.3", res.Score)
	}
	if res.Category != domain.CategoryEntity {
		t.Errorf("category = %q, want entity", res.Category)
	}
}

func TestEvaluateCaptureAdditive(t *testing.T) {
	// Explicit request (0.5) + personal info (0.3) should outscore either alone.
	combined := EvaluateCapture("Remember that my timezone is Europe/Berlin going forward")
	single := EvaluateCapture("Remember that meetings moved around a bit this quarter")
	if combined.Score <= single.Score {
		t.Errorf("combined = %v, single = %v, want combined > single", combined.Score, single.Score)
	}
}

func TestEvaluateCaptureTooShort(t *testing.T) {
	res := EvaluateCapture("remember this")
	if res.Score != 0 {
		t.Errorf("score = %v, want 0 for short text", res.Score)
	}
	if res.Category != domain.CategoryOther {
		t.Errorf("category = %q, want other", res.Category)
	}
}

func TestEvaluateCaptureTooLong(t *testing.T) {
	long := strings.Repeat("I prefer tabs over spaces. ", 200)
	if res := EvaluateCapture(long); res.Score != 0 {
		t.Errorf("score = %v, want 0 for oversized text", res.Score)
	}
}

func TestEvaluateCaptureRecallMarker(t *testing.T) {
	text := RecallMarker + " I prefer dark roast coffee in the morning"
	if res := EvaluateCapture(text); res.Score != 0 {
		t.Errorf("score = %v, want 0 for recalled content", res.Score)
	}
}

func TestEvaluateCaptureCodeHeavyPenalty(t *testing.T) {
	plain := "We decided to use the new parser for all config files"
	res := EvaluateCapture(plain)

	codeHeavy := plain + "\n```go\nfunc a() {}\n```\nand\n```go\nfunc b() {}\n```"
	penalized := EvaluateCapture(codeHeavy)
	if penalized.Score >= res.Score {
		t.Errorf("code-heavy score = %v, want < %v", penalized.Score, res.Score)
	}
}

func TestEvaluateCaptureMarkdownPenalty(t *testing.T) {
	plain := "We decided to use the new parser for all config files"
	res := EvaluateCapture(plain)

	doc := plain + "\n# One\ntext\n## Two\ntext\n### Three\ntext"
	penalized := EvaluateCapture(doc)
	if penalized.Score >= res.Score {
		t.Errorf("markdown-heavy score = %v, want < %v", penalized.Score, res.Score)
	}
}

func TestEvaluateCaptureNeverNegative(t *testing.T) {
	// Penalties alone, no positive signals.
	text := "some text\n```\na\n```\nmore\n```\nb\n```\n# h1\n## h2\n### h3"
	res := EvaluateCapture(text)
	if res.Score != 0 {
		t.Errorf("score = %v, want floor at 0", res.Score)
	}
	if res.Category != domain.CategoryOther {
		t.Errorf("category = %q, want other when score is 0", res.Category)
	}
}

func TestEvaluateCaptureNoSignal(t *testing.T) {
	res := EvaluateCapture("the weather outside seems fairly pleasant this afternoon")
	if res.Score != 0 {
		t.Errorf("score = %v, want 0 for signal-free text", res.Score)
	}
}
