package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"AIFlash/internal/config"
	"AIFlash/internal/domain"
	"AIFlash/internal/ports"
	"AIFlash/internal/scanner"
)

// StrategySource implements RawSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.RawSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// Fetch runs every site's scanner. A site that cannot be resolved or scanned is logged and
// skipped; Fetch fails only when no site succeeded. Items are stamped with the site name when
// the scanner left the source empty, and repeated ids within one run are collapsed.
func (s *StrategySource) Fetch(ctx context.Context, since time.Time) ([]domain.RawItem, error) {
	if s.registry == nil {
		return nil, errors.New("scanner registry is not configured")
	}

	s.debug("fetch sites", "sites", len(s.sites), "since", since.Format("2006-01-02"))

	var (
		aggregated []domain.RawItem
		seen       = make(map[string]bool)
		lastErr    error
		failed     int
	)
	for _, site := range s.sites {
		results, err := s.scanSite(ctx, site, since)
		if err != nil {
			failed++
			lastErr = err
			s.warn("site scan failed", "site", site.Name, "scanner", site.Scanner, "error", err)
			continue
		}

		kept := 0
		for _, item := range results {
			if item.Source == "" {
				item.Source = site.Name
			}
			if strings.TrimSpace(item.Title) == "" {
				continue
			}
			if !item.PublishedAt.IsZero() && item.PublishedAt.Before(since) {
				continue
			}
			id := item.ID()
			if seen[id] {
				continue
			}
			seen[id] = true
			aggregated = append(aggregated, item)
			kept++
		}
		s.debug("site produced items", "site", site.Name, "scanned", len(results), "kept", kept)
	}

	if failed > 0 && failed == len(s.sites) {
		return nil, fmt.Errorf("all %d sites failed: %w", failed, lastErr)
	}
	return aggregated, nil
}

func (s *StrategySource) scanSite(ctx context.Context, site config.SiteConfig, since time.Time) ([]domain.RawItem, error) {
	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	results, err := strategy.Scan(ctx, scanner.Request{
		Since:      since,
		SiteName:   site.Name,
		Options:    site.Options,
		Categories: toScannerCategories(site.Categories),
	})
	if err != nil {
		return nil, fmt.Errorf("scan site %s: %w", site.Name, err)
	}
	return results, nil
}

func toScannerCategories(cfg []config.CategoryConfig) []scanner.Category {
	categories := make([]scanner.Category, 0, len(cfg))
	for _, cat := range cfg {
		categories = append(categories, scanner.Category{Name: cat.Name, URL: cat.URL})
	}
	return categories
}

func (s *StrategySource) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
