package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/detector"
	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/humanize"
)

// Session owns one Chrome process and its single tab.
type Session struct {
	cfg      Config
	identity string
	human    *humanize.Humanizer
	logger   *zap.Logger
	now      func() time.Time

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	userAgent   string

	mu     sync.Mutex
	mouse  xy
	closed bool
}

var (
	_ harvest.Session       = (*Session)(nil)
	_ harvest.MicroBehavior = (*Session)(nil)
	_ detector.Prober       = (*Session)(nil)
)

// New launches a browser for identity. The browser lives until Close, not
// until ctx ends; ctx only bounds startup.
func New(ctx context.Context, cfg Config, identity string, human *humanize.Humanizer, logger *zap.Logger) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if human == nil {
		return nil, errors.New("humanizer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser").With(zap.String("identity", identity))

	ua := pickUserAgent(cfg.UserAgents, human.Sampler().IntN)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("start-maximized", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.UserAgent(ua),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetUserAgentOverride(ua).Do(ctx)
	}))
	stop()
	if err != nil {
		tabCancel()
		allocCancel()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("start browser: %w", ctx.Err())
		}
		return nil, fmt.Errorf("start browser: %w", err)
	}
	logger.Info("browser started", zap.String("user_agent", ua))

	return &Session{
		cfg:         cfg,
		identity:    identity,
		human:       human,
		logger:      logger,
		now:         time.Now,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		userAgent:   ua,
	}, nil
}

// UserAgent reports the agent chosen for this browser.
func (s *Session) UserAgent() string {
	return s.userAgent
}

// run executes actions in the tab, aborting when ctx ends. Canceling the
// derived context leaves the tab open.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return harvest.ErrSessionClosed
	}
	runCtx, cancel := context.WithCancel(s.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Session) navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	title := s.identity + " - harvester"
	if err := s.run(ctx, chromedp.Evaluate(titleScript(title), nil)); err != nil {
		s.logger.Debug("set window title", zap.Error(err))
	}
	return nil
}

// waitFor polls for selector until it appears or timeout elapses.
func (s *Session) waitFor(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		var present []bool
		if err := s.run(ctx, chromedp.Evaluate(presenceScript(selector), &present)); err != nil {
			return false, err
		}
		if len(present) == 1 && present[0] {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (s *Session) typeInto(ctx context.Context, selector, text string) error {
	if err := s.run(ctx,
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.Focus(selector, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("focus %s: %w", selector, err)
	}
	for _, r := range text {
		if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("type into %s: %w", selector, err)
		}
		if _, err := s.human.Wait(ctx, humanize.Typing); err != nil {
			return err
		}
	}
	return nil
}

// Authenticate fills the login form. The operator submits it after solving
// any challenge.
func (s *Session) Authenticate(ctx context.Context, identity harvest.Identity) error {
	if err := s.navigate(ctx, s.cfg.url(s.cfg.LoginPath)); err != nil {
		return err
	}
	if _, err := s.human.Wait(ctx, humanize.PageLoad); err != nil {
		return err
	}
	found, err := s.waitFor(ctx, s.cfg.Selectors.LoginUser, s.cfg.WaitTimeout)
	if err != nil {
		return fmt.Errorf("wait for login form: %w", err)
	}
	if !found {
		return errors.New("login form not found")
	}
	if err := s.typeInto(ctx, s.cfg.Selectors.LoginUser, identity.Username); err != nil {
		return err
	}
	if _, err := s.human.Wait(ctx, humanize.Click); err != nil {
		return err
	}
	if err := s.typeInto(ctx, s.cfg.Selectors.LoginPassword, identity.Password); err != nil {
		return err
	}
	s.logger.Info("credentials filled")
	return nil
}

// OpenListing navigates to the page where the operator sets filters.
func (s *Session) OpenListing(ctx context.Context) error {
	if err := s.navigate(ctx, s.cfg.url(s.cfg.ListingPath)); err != nil {
		return err
	}
	_, err := s.human.Wait(ctx, humanize.PageLoad)
	return err
}

// SuppressTransientOverlays removes popups and keeps them from coming back.
func (s *Session) SuppressTransientOverlays(ctx context.Context) error {
	var removed int
	if err := s.run(ctx, chromedp.Evaluate(overlayScript(s.cfg.Selectors), &removed)); err != nil {
		return fmt.Errorf("suppress overlays: %w", err)
	}
	s.logger.Debug("overlays suppressed", zap.Int("removed", removed))
	return nil
}

// EssentialContentPresent implements harvest.Session.
func (s *Session) EssentialContentPresent(ctx context.Context) (bool, bool, error) {
	var present []bool
	script := presenceScript(s.cfg.Selectors.RecordBody, s.cfg.Selectors.NextButton)
	if err := s.run(ctx, chromedp.Evaluate(script, &present)); err != nil {
		return false, false, fmt.Errorf("check content: %w", err)
	}
	if len(present) != 2 {
		return false, false, fmt.Errorf("check content: unexpected result %v", present)
	}
	return present[0], present[1], nil
}

// ReadQuickIdentifier implements harvest.Session.
func (s *Session) ReadQuickIdentifier(ctx context.Context) (harvest.RecordID, bool, error) {
	var text string
	if err := s.run(ctx, chromedp.Evaluate(quickIDScript(s.cfg.Selectors), &text)); err != nil {
		return "", false, fmt.Errorf("read identifier: %w", err)
	}
	id := normalizeID(text)
	return id, id != "", nil
}

// ExtractFull implements harvest.Session. The comment and details panels are
// opened with their keyboard shortcuts; failures there leave the fields empty.
func (s *Session) ExtractFull(ctx context.Context) (harvest.Record, bool, error) {
	if _, err := s.human.Wait(ctx, humanize.PageLoad); err != nil {
		return harvest.Record{}, false, err
	}
	var raw rawRecord
	if err := s.run(ctx, chromedp.Evaluate(extractScript(s.cfg.Selectors), &raw)); err != nil {
		return harvest.Record{}, false, fmt.Errorf("extract record: %w", err)
	}
	if normalizeID(raw.ID) == "" {
		s.logger.Warn("record identifier not found")
		return harvest.Record{}, false, nil
	}

	comment, err := s.readComment(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return harvest.Record{}, false, ctx.Err()
		}
		s.logger.Debug("comment unavailable", zap.Error(err))
	}
	details, err := s.readDetails(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return harvest.Record{}, false, ctx.Err()
		}
		s.logger.Warn("details unavailable", zap.Error(err))
	}

	rec := buildRecord(raw, comment, details, s.cfg.Selectors.TopicLabel, s.now())
	if !rec.Valid() {
		s.logger.Warn("record has no options", zap.String("record_id", string(rec.ID)))
		return rec, false, nil
	}
	return rec, true, nil
}

func (s *Session) readComment(ctx context.Context) (*rawComment, error) {
	if _, err := s.human.Wait(ctx, humanize.CommentOpen); err != nil {
		return nil, err
	}
	if err := s.run(ctx, chromedp.KeyEvent("o")); err != nil {
		return nil, fmt.Errorf("open comment: %w", err)
	}
	if _, err := s.human.Wait(ctx, humanize.PageLoad); err != nil {
		return nil, err
	}
	var c rawComment
	if err := s.run(ctx, chromedp.Evaluate(commentScript(s.cfg.Selectors), &c)); err != nil {
		return nil, fmt.Errorf("read comment: %w", err)
	}
	if err := s.closePanel(ctx); err != nil {
		return &c, err
	}
	return &c, nil
}

func (s *Session) readDetails(ctx context.Context) (map[string]string, error) {
	if _, err := s.human.Wait(ctx, humanize.DetailsOpen); err != nil {
		return nil, err
	}
	if err := s.run(ctx, chromedp.KeyEvent("i")); err != nil {
		return nil, fmt.Errorf("open details: %w", err)
	}
	if _, err := s.human.Wait(ctx, humanize.PageLoad); err != nil {
		return nil, err
	}
	found, err := s.waitFor(ctx, s.cfg.Selectors.Details, s.cfg.DetailsTimeout)
	if err != nil {
		return nil, fmt.Errorf("wait for details: %w", err)
	}
	if !found {
		return nil, errors.New("details panel did not open")
	}
	var items []rawDetail
	if err := s.run(ctx, chromedp.Evaluate(detailsScript(s.cfg.Selectors), &items)); err != nil {
		return nil, fmt.Errorf("read details: %w", err)
	}
	details := detailsMap(items)
	s.logger.Debug("details extracted", zap.Int("fields", len(details)))
	return details, s.closePanel(ctx)
}

func (s *Session) closePanel(ctx context.Context) error {
	if err := s.run(ctx, chromedp.KeyEvent(kb.Escape)); err != nil {
		return fmt.Errorf("close panel: %w", err)
	}
	_, err := s.human.Wait(ctx, humanize.Click)
	return err
}

// AdvanceToNext clicks the next control and waits for the following record.
// It returns false without error when either wait runs out.
func (s *Session) AdvanceToNext(ctx context.Context) (bool, error) {
	found, err := s.waitFor(ctx, s.cfg.Selectors.NextButton, s.cfg.WaitTimeout)
	if err != nil {
		return false, fmt.Errorf("wait for next control: %w", err)
	}
	if !found {
		return false, nil
	}
	if _, err := s.human.Wait(ctx, humanize.Click); err != nil {
		return false, err
	}
	if err := s.clickSelector(ctx, s.cfg.Selectors.NextButton); err != nil {
		return false, err
	}
	if _, err := s.human.Wait(ctx, humanize.PageLoad); err != nil {
		return false, err
	}
	found, err = s.waitFor(ctx, s.cfg.Selectors.RecordBody, s.cfg.WaitTimeout)
	if err != nil {
		return false, fmt.Errorf("wait for record body: %w", err)
	}
	return found, nil
}

// Probe implements detector.Prober with a single page evaluation.
func (s *Session) Probe(ctx context.Context) (detector.Page, error) {
	var r probeResult
	if err := s.run(ctx, chromedp.Evaluate(probeScript(s.cfg.Selectors), &r)); err != nil {
		return detector.Page{}, fmt.Errorf("probe page: %w", err)
	}
	return detector.Page{
		BodyPresent:      r.BodyPresent,
		NextPresent:      r.NextPresent,
		BodyText:         r.BodyText,
		Source:           r.Source,
		ChallengeVisible: r.ChallengeVisible,
	}, nil
}

// Close shuts the browser down. Later calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.tabCancel()
	s.allocCancel()
	s.logger.Info("browser closed")
	return nil
}
