package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kangaroo-trader/internal/model"
	"kangaroo-trader/internal/service"
)

// SectorResolver looks up the sector classification of a ticker.
// Resolve never fails: any lookup problem yields model.SectorUnresolved.
type SectorResolver interface {
	Resolve(ctx context.Context, ticker string) string
}

// YahooSectorResolver reads assetProfile.sector from the Yahoo Finance
// quote summary endpoint.
type YahooSectorResolver struct {
	baseURL     string
	suffix      string
	userAgent   string
	timeout     time.Duration
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.SugaredLogger
}

func NewYahooSectorResolver(cfg service.SectorConfig, logger *zap.SugaredLogger) *YahooSectorResolver {
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YahooSectorResolver{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		suffix:      cfg.Suffix,
		userAgent:   cfg.UserAgent,
		timeout:     timeout,
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1),
		logger:      logger,
	}
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			AssetProfile struct {
				Sector string `json:"sector"`
			} `json:"assetProfile"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

// Resolve returns the sector for ticker or model.SectorUnresolved.
func (r *YahooSectorResolver) Resolve(ctx context.Context, ticker string) string {
	sector, err := r.lookup(ctx, ticker)
	if err != nil {
		r.logger.Warnw("sector lookup failed", "ticker", ticker, "error", err)
		return model.SectorUnresolved
	}
	return sector
}

func (r *YahooSectorResolver) lookup(ctx context.Context, ticker string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.rateLimiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	symbol := strings.ToUpper(ticker) + r.suffix
	requestURL := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=assetProfile", r.baseURL, url.PathEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload quoteSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if e := payload.QuoteSummary.Error; e != nil {
		return "", fmt.Errorf("provider error %s: %s", e.Code, e.Description)
	}
	if len(payload.QuoteSummary.Result) == 0 {
		return "", fmt.Errorf("no result for %s", symbol)
	}

	sector := strings.TrimSpace(payload.QuoteSummary.Result[0].AssetProfile.Sector)
	if sector == "" {
		return "", fmt.Errorf("empty sector for %s", symbol)
	}
	return sector, nil
}
