// Package collysource scrapes static directory pages with gocolly.
package collysource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/source"
)

const defaultTimeout = 60 * time.Second

// Config controls the scraper.
type Config struct {
	Name        string
	URLTemplate string
	UserAgents  []string
	Timeout     time.Duration
	Selectors   source.Selectors
	// MaxResults caps profiles parsed from one page; zero parses all.
	MaxResults int
	// Robots, when set, gates every directory page.
	Robots source.RobotsPolicy
}

// Source implements lead.Source over a server-rendered directory.
type Source struct {
	cfg           Config
	clock         lead.Clock
	logger        *zap.Logger
	baseCollector *colly.Collector
}

// New validates cfg and builds a Source.
func New(cfg Config, clock lead.Clock, logger *zap.Logger) (*Source, error) {
	if cfg.Name == "" {
		return nil, errors.New("colly source: name is required")
	}
	if cfg.URLTemplate == "" {
		return nil, errors.New("colly source: url template is required")
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, fmt.Errorf("colly source: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if clock == nil {
		return nil, errors.New("colly source: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	return &Source{cfg: cfg, clock: clock, logger: logger, baseCollector: c}, nil
}

// Name implements lead.Source.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Fetch visits the directory page for q and extracts its profile cards.
func (s *Source) Fetch(ctx context.Context, q lead.Query) ([]lead.Candidate, error) {
	target, err := source.BuildURL(s.cfg.URLTemplate, q)
	if err != nil {
		return nil, err
	}
	if err := source.CheckRobots(ctx, s.cfg.Robots, target); err != nil {
		return nil, err
	}

	var (
		records  []lead.Candidate
		fetchErr error
		pages    int
	)
	collector := s.buildCollector()
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})
	collector.OnResponse(func(r *colly.Response) {
		pages++
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
		if err != nil {
			fetchErr = fmt.Errorf("parse %s: %w", r.Request.URL, err)
			return
		}
		records = append(records, source.ParseDocument(
			doc, s.cfg.Selectors, r.Request.URL, s.cfg.Name, q, s.clock.Now().UTC(), s.cfg.MaxResults,
		)...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	if err := s.run(ctx, collector, target, &fetchErr); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.logger.Warn("no profiles found",
			zap.String("region", q.Region),
			zap.String("url", target),
			zap.Int("pages", pages),
		)
	}
	return records, nil
}

func (s *Source) buildCollector() *colly.Collector {
	collector := s.baseCollector.Clone()
	if n := len(s.cfg.UserAgents); n > 0 {
		collector.UserAgent = s.cfg.UserAgents[rand.IntN(n)]
	}
	collector.SetRequestTimeout(s.cfg.Timeout)
	return collector
}

func (s *Source) run(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
