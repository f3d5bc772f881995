package detector

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Prober captures a Page from the live session.
type Prober interface {
	Probe(ctx context.Context) (Page, error)
}

// SessionClassifier classifies a session by probing it and evaluating the
// result with a Heuristic.
type SessionClassifier struct {
	prober    Prober
	heuristic *Heuristic
	logger    *zap.Logger
}

// NewSessionClassifier wires a prober to a heuristic.
func NewSessionClassifier(prober Prober, heuristic *Heuristic, logger *zap.Logger) *SessionClassifier {
	if heuristic == nil {
		heuristic = NewHeuristic(0, nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionClassifier{prober: prober, heuristic: heuristic, logger: logger}
}

// Classify implements harvest.Classifier. A failed probe is reported as no
// block; the caller's next step surfaces a real failure as a soft error.
func (c *SessionClassifier) Classify(ctx context.Context) (harvest.BlockCondition, error) {
	page, err := c.prober.Probe(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return harvest.NoBlock, ctx.Err()
		}
		c.logger.Debug("probe failed, assuming no block", zap.Error(err))
		return harvest.NoBlock, nil
	}
	return c.heuristic.Evaluate(page), nil
}
