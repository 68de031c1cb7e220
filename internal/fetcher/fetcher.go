// Package fetcher pulls daily bars from the upstream market-data source.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketsync/internal/config"
	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrRateLimited means the upstream refused the call for quota reasons.
	ErrRateLimited = errors.New("upstream rate limited")
	// ErrNotFound means the upstream does not know the target.
	ErrNotFound = errors.New("target not found upstream")

	ErrUnknownProvider = errors.New("unknown fetcher provider")
)

// Fetcher returns the bars of target with trade date on or after since.
type Fetcher interface {
	Fetch(ctx context.Context, target string, since time.Time) ([]models.Bar, error)
}

// New builds the provider selected in cfg.
func New(cfg config.FetcherConfig, logger *zerolog.Logger) (Fetcher, error) {
	switch strings.ToLower(cfg.Provider) {
	case "http":
		if cfg.BaseURL == "" {
			return nil, errors.New("fetcher.base_url is required for the http provider")
		}
		return NewHTTPFetcher(cfg.BaseURL, cfg.Token, time.Duration(cfg.TimeoutSeconds)*time.Second, logger), nil
	case "xlsx":
		if cfg.XLSXPath == "" {
			return nil, errors.New("fetcher.xlsx_path is required for the xlsx provider")
		}
		return NewXLSXFetcher(cfg.XLSXPath, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}
