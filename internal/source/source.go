// Package source holds the shared directory-parsing helpers and the Chain that
// consults several record sources in order.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
)

// ErrDisallowed is returned when robots.txt forbids a directory page.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// RobotsPolicy reports whether a URL may be fetched.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// CheckRobots returns ErrDisallowed when policy forbids target. A nil policy
// allows everything.
func CheckRobots(ctx context.Context, policy RobotsPolicy, target string) error {
	if policy == nil || policy.Allowed(ctx, target) {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrDisallowed, target)
}

// Selectors locate profile cards and their fields inside a directory page.
type Selectors struct {
	Profiles string `mapstructure:"profiles"`
	Name     string `mapstructure:"name"`
	Firm     string `mapstructure:"firm"`
	Website  string `mapstructure:"website"`
	Email    string `mapstructure:"email"`
}

// DefaultSelectors matches the public lawyer directory markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Profiles: ".lawyer-card",
		Name:     ".lawyer-name",
		Firm:     ".lawyer-firm",
		Website:  ".lawyer-website a",
		Email:    `a[href^="mailto:"]`,
	}
}

// Validate ensures the card and name selectors are present.
func (s Selectors) Validate() error {
	if strings.TrimSpace(s.Profiles) == "" || strings.TrimSpace(s.Name) == "" {
		return errors.New("selectors: profiles and name are required")
	}
	return nil
}

// Slug lowercases s and joins its words with dashes.
func Slug(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "-")
}

// BuildURL expands {category} and {region} in template with path-escaped slugs.
func BuildURL(template string, q lead.Query) (string, error) {
	if !strings.Contains(template, "{region}") {
		return "", fmt.Errorf("url template %q lacks {region}", template)
	}
	raw := strings.NewReplacer(
		"{category}", url.PathEscape(Slug(q.Category)),
		"{region}", url.PathEscape(Slug(q.Region)),
	).Replace(template)
	if _, err := url.Parse(raw); err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	return raw, nil
}

// ExtractProfile reads one profile card. Website is returned as found; callers
// resolve relative links against the page URL.
func ExtractProfile(card *goquery.Selection, sel Selectors) lead.Candidate {
	c := lead.Candidate{
		Name: lead.CleanText(card.Find(sel.Name).First().Text()),
	}
	if sel.Firm != "" {
		c.Firm = lead.CleanText(card.Find(sel.Firm).First().Text())
	}
	if sel.Website != "" {
		if href, ok := card.Find(sel.Website).First().Attr("href"); ok {
			c.Website = strings.TrimSpace(href)
		}
	}
	if sel.Email != "" {
		node := card.Find(sel.Email).First()
		if href, ok := node.Attr("href"); ok && strings.HasPrefix(strings.ToLower(href), "mailto:") {
			c.Email = strings.TrimSpace(href[len("mailto:"):])
			if i := strings.IndexByte(c.Email, '?'); i >= 0 {
				c.Email = c.Email[:i]
			}
		} else {
			c.Email = lead.CleanText(node.Text())
		}
	}
	return c
}

// ParseDocument extracts up to limit named candidates from doc (limit <= 0 means all).
// base resolves relative website links.
func ParseDocument(
	doc *goquery.Document,
	sel Selectors,
	base *url.URL,
	sourceName string,
	q lead.Query,
	now time.Time,
	limit int,
) []lead.Candidate {
	var out []lead.Candidate
	doc.Find(sel.Profiles).EachWithBreak(func(_ int, card *goquery.Selection) bool {
		if limit > 0 && len(out) >= limit {
			return false
		}
		c := ExtractProfile(card, sel)
		if c.Name == "" {
			return true
		}
		if c.Website != "" && base != nil {
			if ref, err := url.Parse(c.Website); err == nil {
				c.Website = base.ResolveReference(ref).String()
			}
		}
		c.Source = sourceName
		c.Region = q.Region
		c.DiscoveredAt = now
		out = append(out, c)
		return true
	})
	return out
}

// Chain asks each source in order and concatenates their candidates. A failing
// source is logged and skipped; Fetch errors only when every source failed.
type Chain struct {
	sources []lead.Source
	logger  *zap.Logger
	// firstHit stops at the first source that returns records.
	firstHit bool
}

// NewChain builds a Chain over sources.
func NewChain(logger *zap.Logger, sources ...lead.Source) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Chain{sources: sources, logger: logger}
}

// NewFallback builds a Chain that only consults later sources while earlier
// ones fail or find nothing, such as a headless renderer behind a static scraper.
func NewFallback(logger *zap.Logger, sources ...lead.Source) *Chain {
	c := NewChain(logger, sources...)
	c.firstHit = true
	return c
}

// Name implements lead.Source.
func (c *Chain) Name() string {
	names := make([]string, 0, len(c.sources))
	for _, s := range c.sources {
		names = append(names, s.Name())
	}
	return strings.Join(names, "+")
}

// Fetch implements lead.Source.
func (c *Chain) Fetch(ctx context.Context, q lead.Query) ([]lead.Candidate, error) {
	if len(c.sources) == 0 {
		return nil, errors.New("source chain is empty")
	}
	var (
		out  []lead.Candidate
		errs []error
	)
	for _, s := range c.sources {
		records, err := s.Fetch(ctx, q)
		if err != nil {
			c.logger.Warn("source fetch failed",
				zap.String("source", s.Name()),
				zap.String("region", q.Region),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		out = append(out, records...)
		if c.firstHit && len(out) > 0 {
			return out, nil
		}
	}
	if len(errs) == len(c.sources) {
		return nil, errors.Join(errs...)
	}
	return out, nil
}
