package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/humanize"
)

type xy struct {
	X, Y float64
}

// bezierPath samples a cubic Bezier curve from a to b through c1 and c2.
// The last point is always b.
func bezierPath(a, c1, c2, b xy, steps int) []xy {
	if steps < 1 {
		steps = 1
	}
	out := make([]xy, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		u := 1 - t
		out = append(out, xy{
			X: u*u*u*a.X + 3*u*u*t*c1.X + 3*u*t*t*c2.X + t*t*t*b.X,
			Y: u*u*u*a.Y + 3*u*u*t*c1.Y + 3*u*t*t*c2.Y + t*t*t*b.Y,
		})
	}
	return out
}

// scrollSteps splits total into n increments that add up to total.
func scrollSteps(total, n int) []int {
	if n < 1 {
		n = 1
	}
	steps := make([]int, n)
	for i := range steps {
		steps[i] = total / n
	}
	steps[n-1] += total % n
	return steps
}

// moveMouse glides the pointer to target along a jittered curve of 10 to 20
// points, 10 to 30ms apart.
func (s *Session) moveMouse(ctx context.Context, target xy) error {
	sampler := s.human.Sampler()
	s.mu.Lock()
	from := s.mouse
	s.mu.Unlock()

	jitter := func(p xy) xy {
		return xy{X: p.X + float64(sampler.IntN(201)-100), Y: p.Y + float64(sampler.IntN(201)-100)}
	}
	c1 := jitter(xy{X: from.X + (target.X-from.X)/3, Y: from.Y + (target.Y-from.Y)/3})
	c2 := jitter(xy{X: from.X + 2*(target.X-from.X)/3, Y: from.Y + 2*(target.Y-from.Y)/3})

	for _, p := range bezierPath(from, c1, c2, target, 10+sampler.IntN(11)) {
		p := p
		if err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, p.X, p.Y).Do(ctx)
		})); err != nil {
			return fmt.Errorf("move mouse: %w", err)
		}
		s.mu.Lock()
		s.mouse = p
		s.mu.Unlock()
		if err := s.human.WaitBetween(ctx, 10*time.Millisecond, 30*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) moveToSelector(ctx context.Context, selector string) error {
	var p point
	if err := s.run(ctx, chromedp.Evaluate(centerScript(selector), &p)); err != nil {
		return fmt.Errorf("locate %s: %w", selector, err)
	}
	if !p.Found {
		return nil
	}
	return s.moveMouse(ctx, xy{X: p.X, Y: p.Y})
}

// clickSelector moves to the element and clicks its center.
func (s *Session) clickSelector(ctx context.Context, selector string) error {
	var p point
	if err := s.run(ctx, chromedp.Evaluate(centerScript(selector), &p)); err != nil {
		return fmt.Errorf("locate %s: %w", selector, err)
	}
	if !p.Found {
		return fmt.Errorf("element %s not found", selector)
	}
	if err := s.moveMouse(ctx, xy{X: p.X, Y: p.Y}); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.MouseClickXY(p.X, p.Y)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// readingScroll scrolls a short distance in a few increments as a quick read.
func (s *Session) readingScroll(ctx context.Context) error {
	sampler := s.human.Sampler()
	total := 100 + sampler.IntN(201)
	steps := scrollSteps(total, 2)
	span := sampler.Uniform(200*time.Millisecond, 500*time.Millisecond)
	for _, px := range steps {
		if err := s.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", px), nil)); err != nil {
			return fmt.Errorf("scroll: %w", err)
		}
		if err := s.human.WaitBetween(ctx, span/time.Duration(len(steps)), span/time.Duration(len(steps))); err != nil {
			return err
		}
	}
	s.logger.Debug("reading scroll", zap.Int("px", total), zap.Duration("span", span))
	return nil
}

// PerformSkip implements harvest.MicroBehavior. It stops short of clicking
// next; the caller advances afterwards.
func (s *Session) PerformSkip(ctx context.Context, profile harvest.SkipProfile) error {
	sampler := s.human.Sampler()
	switch profile {
	case harvest.SkipScanThenSkip:
		if err := s.human.WaitBetween(ctx, 300*time.Millisecond, 700*time.Millisecond); err != nil {
			return err
		}
		if err := s.readingScroll(ctx); err != nil {
			return s.softGesture(ctx, err)
		}
		if _, err := s.human.Wait(ctx, humanize.DuplicateScroll); err != nil {
			return err
		}
		if err := s.run(ctx, chromedp.Evaluate("window.scrollTo(0, 0)", nil)); err != nil {
			return s.softGesture(ctx, err)
		}
		if err := s.human.WaitBetween(ctx, 200*time.Millisecond, 500*time.Millisecond); err != nil {
			return err
		}
	case harvest.SkipHesitate:
		if _, err := s.human.Wait(ctx, humanize.DuplicateRecognition); err != nil {
			return err
		}
		if sampler.Float64() < 0.5 {
			if err := s.moveToSelector(ctx, s.cfg.Selectors.RecordBody); err != nil {
				return s.softGesture(ctx, err)
			}
		}
		if _, err := s.human.Wait(ctx, humanize.DuplicateSkipDecision); err != nil {
			return err
		}
	default:
		if _, err := s.human.Wait(ctx, humanize.DuplicateRecognition); err != nil {
			return err
		}
	}

	if sampler.Float64() < 0.6 {
		if err := s.moveToSelector(ctx, s.cfg.Selectors.NextButton); err != nil {
			return s.softGesture(ctx, err)
		}
	}
	_, err := s.human.Wait(ctx, humanize.DuplicateClick)
	return err
}

// softGesture drops gesture failures unless the context ended; a missed
// scroll or mouse move must not cost a record.
func (s *Session) softGesture(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.logger.Debug("gesture skipped", zap.Error(err))
	return nil
}
