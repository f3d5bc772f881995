// Package detector classifies the live session into blocking conditions.
package detector

import (
	"strings"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Page is a point-in-time snapshot of the signals the classifier needs.
type Page struct {
	// BodyPresent is true when the record body element is on the page.
	BodyPresent bool
	// NextPresent is true when the next-record affordance is on the page.
	NextPresent bool
	// BodyText is the visible text of the document body.
	BodyText string
	// Source is the raw page markup.
	Source string
	// ChallengeVisible is true when an interactive challenge widget is
	// displayed.
	ChallengeVisible bool
}

// DefaultMinBodyChars is the body length under which a page is considered
// suspiciously empty.
const DefaultMinBodyChars = 100

// DefaultLockoutMarkers are texts and markup fragments of upstream traffic
// filter pages.
var DefaultLockoutMarkers = []string{
	"Checking your browser",
	"Just a moment",
	"Please wait",
	"Verificando seu navegador",
	"cf-browser-verification",
	"challenge-platform",
}

// DefaultErrorMarkers are texts shown by upstream error pages.
var DefaultErrorMarkers = []string{
	"erro fatal",
	"error 500",
	"error 404",
	"página não encontrada",
	"not found",
}

// Heuristic implements the rule-based classification policy. Markers are
// matched case-insensitively. Lockout markers may appear in the visible text
// or the markup; error markers only count in the visible text.
type Heuristic struct {
	MinBodyChars   int
	LockoutMarkers []string
	ErrorMarkers   []string
}

// NewHeuristic creates a detector. Zero values fall back to the defaults.
func NewHeuristic(minBodyChars int, lockout, errMarkers []string) *Heuristic {
	if minBodyChars <= 0 {
		minBodyChars = DefaultMinBodyChars
	}
	if len(lockout) == 0 {
		lockout = DefaultLockoutMarkers
	}
	if len(errMarkers) == 0 {
		errMarkers = DefaultErrorMarkers
	}
	return &Heuristic{
		MinBodyChars:   minBodyChars,
		LockoutMarkers: lowerAll(lockout),
		ErrorMarkers:   lowerAll(errMarkers),
	}
}

func lowerAll(markers []string) []string {
	out := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			out = append(out, m)
		}
	}
	return out
}

// Evaluate applies the rules in priority order. Presence of both content
// signals wins over any marker that might also be on the page.
func (h *Heuristic) Evaluate(p Page) harvest.BlockCondition {
	if p.BodyPresent && p.NextPresent {
		return harvest.NoBlock
	}
	text := strings.ToLower(p.BodyText)
	if len(strings.TrimSpace(p.BodyText)) < h.MinBodyChars {
		if n := countMarkers(h.LockoutMarkers, text, strings.ToLower(p.Source)); n >= 2 {
			return harvest.HardBlock(harvest.KindRateLimit, "traffic filter page")
		}
	}
	if p.ChallengeVisible {
		return harvest.HardBlock(harvest.KindCaptcha, "challenge widget visible")
	}
	for _, m := range h.ErrorMarkers {
		if strings.Contains(text, m) {
			return harvest.BlockCondition{Class: harvest.ConditionLoadingError, Detail: m}
		}
	}
	return harvest.BlockCondition{
		Class:  harvest.ConditionLayoutChange,
		Detail: missingDetail(p),
	}
}

// countMarkers counts distinct markers found in any of the haystacks.
func countMarkers(markers []string, haystacks ...string) int {
	n := 0
	for _, m := range markers {
		for _, h := range haystacks {
			if strings.Contains(h, m) {
				n++
				break
			}
		}
	}
	return n
}

func missingDetail(p Page) string {
	switch {
	case !p.BodyPresent && !p.NextPresent:
		return "record body and next control missing"
	case !p.BodyPresent:
		return "record body missing"
	default:
		return "next control missing"
	}
}
