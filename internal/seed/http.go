package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// HTTPConfig configures HTTPSource.
type HTTPConfig struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// HTTPSource fetches the seed with a GET through a colly collector.
type HTTPSource struct {
	cfg  HTTPConfig
	base *colly.Collector
}

// NewHTTPSource builds a source for cfg.URL.
func NewHTTPSource(cfg HTTPConfig) (*HTTPSource, error) {
	if cfg.URL == "" {
		return nil, errors.New("seed: url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	base := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.MaxBodySize(0),
		colly.IgnoreRobotsTxt(),
	)
	if cfg.UserAgent != "" {
		base.UserAgent = cfg.UserAgent
	}
	base.SetRequestTimeout(cfg.Timeout)
	return &HTTPSource{cfg: cfg, base: base}, nil
}

// FetchIDs implements harvest.SeedSource. Non-2xx responses are errors.
func (s *HTTPSource) FetchIDs(ctx context.Context) ([]harvest.RecordID, error) {
	var (
		body     []byte
		fetchErr error
	)
	c := s.base.Clone()
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	c.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("seed endpoint returned status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Visit(s.cfg.URL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("seed fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("seed fetch: %w", fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("seed visit: %w", err)
		}
	}
	return ParseIDs(body)
}
