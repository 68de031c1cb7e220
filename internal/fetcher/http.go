package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"marketsync/internal/models"

	"github.com/rs/zerolog"
)

// HTTPFetcher reads bars from a JSON endpoint:
// GET {base}/bars?code=<target>&since=YYYY-MM-DD.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zerolog.Logger
}

type barDTO struct {
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	Volume    float64 `json:"volume"`
	Amount    float64 `json:"amount"`
	PctChange float64 `json:"pct_change"`
}

type barsResponse struct {
	Code string   `json:"code"`
	Bars []barDTO `json:"bars"`
}

func NewHTTPFetcher(baseURL, token string, timeout time.Duration, logger *zerolog.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, target string, since time.Time) ([]models.Bar, error) {
	q := url.Values{}
	q.Set("code", target)
	q.Set("since", since.Format(models.DateLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/bars?"+q.Encode(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("fetch %s: %w", target, ErrRateLimited)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetch %s: %w", target, ErrNotFound)
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch %s: upstream status %d: %s", target, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload barsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode bars of %s: %w", target, err)
	}

	bars := make([]models.Bar, 0, len(payload.Bars))
	for _, dto := range payload.Bars {
		date, err := time.Parse(models.DateLayout, dto.TradeDate)
		if err != nil {
			return nil, fmt.Errorf("bar of %s has bad trade date %q: %w", target, dto.TradeDate, err)
		}
		if date.Before(since) {
			continue
		}
		bars = append(bars, models.Bar{
			TargetCode: target,
			TradeDate:  date,
			Open:       dto.Open,
			High:       dto.High,
			Low:        dto.Low,
			Close:      dto.Close,
			PreClose:   dto.PreClose,
			Volume:     dto.Volume,
			Amount:     dto.Amount,
			PctChange:  dto.PctChange,
		})
	}

	f.logger.Debug().Str("target", target).Int("bars", len(bars)).Msg("fetched bars")
	return bars, nil
}
