// Package pause suspends a worker on a blocking condition until the operator
// resolves it.
package pause

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// DefaultSettle is the pause after acknowledgment that lets the page
// stabilize.
const DefaultSettle = 2 * time.Second

type instructions struct {
	title string
	steps []string
}

var byKey = map[string]instructions{
	string(harvest.KindRateLimit): {
		title: "TRAFFIC FILTER / SECURITY CHECK DETECTED",
		steps: []string{
			"Wait for the automatic verification to finish",
			"Or solve the challenge if one is shown",
			"Wait for the page to redirect back",
			"Confirm the record page is displayed again",
		},
	},
	string(harvest.KindCaptcha): {
		title: "CAPTCHA DETECTED",
		steps: []string{
			"Solve the captcha shown in the browser",
			"Wait for validation",
			"Confirm the page loaded correctly",
		},
	},
	string(harvest.ConditionLayoutChange): {
		title: "PAGE LAYOUT CHANGED",
		steps: []string{
			"Check for popups or messages",
			"Confirm the page is fully loaded",
			"Re-apply the filters if needed",
		},
	},
	string(harvest.ConditionLoadingError): {
		title: "LOADING ERROR",
		steps: []string{
			"Reload the page if needed",
			"Check the network connection",
			"Confirm the page loaded",
		},
	},
}

var fallback = instructions{
	title: "UNIDENTIFIED PROBLEM",
	steps: []string{
		"Inspect the browser window",
		"Resolve any visible problem",
		"Confirm everything is OK",
	},
}

var (
	bannerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203"))
	noteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.DoubleBorder()).Padding(0, 1)
)

// Controller implements harvest.Pauser.
type Controller struct {
	ack    harvest.Acknowledger
	clock  harvest.Clock
	settle time.Duration
	out    io.Writer
	logger *zap.Logger

	// Instructions from concurrent workers must not interleave.
	outMu sync.Mutex
}

// Option customizes a Controller.
type Option func(*Controller)

// WithSettle overrides the post-acknowledgment settle time.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.settle = d
		}
	}
}

// WithOutput sets where operator instructions are printed.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) {
		if w != nil {
			c.out = w
		}
	}
}

// New builds a pause controller.
func New(ack harvest.Acknowledger, clock harvest.Clock, logger *zap.Logger, opts ...Option) (*Controller, error) {
	if ack == nil {
		return nil, errors.New("pause: acknowledger is required")
	}
	if clock == nil {
		return nil, errors.New("pause: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{ack: ack, clock: clock, settle: DefaultSettle, out: io.Discard, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Pause prints instructions for cond, waits for the operator without a
// timeout, then settles. Only ctx cancellation ends the wait early.
func (c *Controller) Pause(ctx context.Context, identity string, cond harvest.BlockCondition) error {
	log := c.logger.With(zap.String("identity", identity), zap.String("condition", cond.Key()))
	c.print(Render(identity, cond))
	log.Warn("paused for operator intervention", zap.String("detail", cond.Detail))

	if err := c.ack.AwaitAck(ctx, identity, cond); err != nil {
		return fmt.Errorf("pause %s: %w", identity, err)
	}
	c.print(fmt.Sprintf("[%s] resuming extraction", identity))
	log.Info("resumed by operator")

	if err := c.clock.Sleep(ctx, c.settle); err != nil {
		return fmt.Errorf("pause %s settle: %w", identity, err)
	}
	return nil
}

func (c *Controller) print(s string) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintln(c.out, s)
}

// Render formats the operator instructions for cond.
func Render(identity string, cond harvest.BlockCondition) string {
	in, ok := byKey[cond.Key()]
	if !ok {
		in = fallback
	}
	lines := []string{
		bannerStyle.Render(fmt.Sprintf("AUTOMATIC PAUSE [%s]", identity)),
		in.title,
	}
	if cond.Detail != "" {
		lines = append(lines, noteStyle.Render(cond.Detail))
	}
	lines = append(lines, "", "Instructions:")
	for i, step := range in.steps {
		lines = append(lines, fmt.Sprintf("  %d. %s", i+1, step))
	}
	lines = append(lines, "",
		noteStyle.Render("Do not close the browser; the worker waits for you."),
		noteStyle.Render(fmt.Sprintf("Press ENTER or type %q when ready to continue.", identity)),
	)
	return boxStyle.Render(strings.Join(lines, "\n"))
}
