// Package headless scrapes directories that render their listings with
// JavaScript, driving a headless Chrome through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/source"
)

const defaultNavigationTimeout = 60 * time.Second

// Config controls the headless source.
type Config struct {
	Name              string
	URLTemplate       string
	UserAgents        []string
	Selectors         source.Selectors
	MaxParallel       int
	NavigationTimeout time.Duration
	MaxResults        int
	// ExecPath optionally points at the Chrome binary.
	ExecPath string
	// Robots, when set, gates every directory page.
	Robots source.RobotsPolicy
}

// Renderer returns the rendered HTML and final URL of a page.
type Renderer interface {
	Render(ctx context.Context, target, userAgent string) (html string, finalURL string, err error)
}

// Source implements lead.Source by rendering the directory page and parsing
// the resulting DOM.
type Source struct {
	cfg      Config
	renderer Renderer
	clock    lead.Clock
	logger   *zap.Logger
	limiter  chan struct{}
	closeFn  func()
}

// New builds a Source backed by a chromedp exec allocator.
func New(cfg Config, clock lead.Clock, logger *zap.Logger) (*Source, error) {
	if cfg.MaxParallel < 0 {
		return nil, errors.New("headless source: max parallel must be >= 0")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	r := &chromeRenderer{allocator: allocCtx, settle: 500 * time.Millisecond}
	src, err := NewWithRenderer(cfg, r, clock, logger)
	if err != nil {
		allocCancel()
		return nil, err
	}
	src.closeFn = allocCancel
	return src, nil
}

// NewWithRenderer builds a Source around any Renderer.
func NewWithRenderer(cfg Config, r Renderer, clock lead.Clock, logger *zap.Logger) (*Source, error) {
	if cfg.Name == "" || cfg.URLTemplate == "" {
		return nil, errors.New("headless source: name and url template are required")
	}
	if err := cfg.Selectors.Validate(); err != nil {
		return nil, fmt.Errorf("headless source: %w", err)
	}
	if r == nil || clock == nil {
		return nil, errors.New("headless source: renderer and clock are required")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	return &Source{cfg: cfg, renderer: r, clock: clock, logger: logger, limiter: limiter, closeFn: func() {}}, nil
}

// Close releases the browser allocator.
func (s *Source) Close() {
	s.closeFn()
}

// Name implements lead.Source.
func (s *Source) Name() string {
	return s.cfg.Name
}

// Fetch renders the directory page for q and extracts its profile cards.
func (s *Source) Fetch(ctx context.Context, q lead.Query) ([]lead.Candidate, error) {
	target, err := source.BuildURL(s.cfg.URLTemplate, q)
	if err != nil {
		return nil, err
	}
	if err := source.CheckRobots(ctx, s.cfg.Robots, target); err != nil {
		return nil, err
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	html, finalURL, err := s.renderer.Render(ctx, target, s.userAgent())
	if err != nil {
		return nil, err
	}
	records, err := s.parse(html, finalURL, target, q)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		s.logger.Warn("no profiles found", zap.String("region", q.Region), zap.String("url", target))
	}
	return records, nil
}

func (s *Source) parse(html, finalURL, target string, q lead.Query) ([]lead.Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse rendered page: %w", err)
	}
	pageURL := finalURL
	if pageURL == "" {
		pageURL = target
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		base = nil
	}
	return source.ParseDocument(doc, s.cfg.Selectors, base, s.cfg.Name, q, s.clock.Now().UTC(), s.cfg.MaxResults), nil
}

func (s *Source) userAgent() string {
	if n := len(s.cfg.UserAgents); n > 0 {
		return s.cfg.UserAgents[rand.IntN(n)]
	}
	return ""
}

func (s *Source) acquire(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	select {
	case s.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (s *Source) release() {
	if s.limiter == nil {
		return
	}
	select {
	case <-s.limiter:
	default:
	}
}

type chromeRenderer struct {
	allocator context.Context
	settle    time.Duration
}

func (r *chromeRenderer) Render(ctx context.Context, target, userAgent string) (string, string, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	var html, finalURL string
	actions := []chromedp.Action{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if userAgent != "" {
				if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(target),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(r.settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return "", "", fmt.Errorf("chromedp run: %w", ctx.Err())
		}
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}
