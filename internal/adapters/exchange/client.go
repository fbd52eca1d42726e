package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultRESTBase = "https://fapi.binance.com"

	// Rate limits well under the documented weight budget: ticker and
	// premium-index endpoints are cheap, but the session poll loop calls
	// them continuously for every instrument.
	priceRatePerSec   = 10
	fundingRatePerSec = 2

	maxRetries    = 3
	baseRetryWait = 500 * time.Millisecond
)

// Client is the exchange REST connector with rate limiting and retries.
// It implements ports.PriceFeed.
type Client struct {
	http           *http.Client
	base           string
	priceLimiter   *rate.Limiter
	fundingLimiter *rate.Limiter
}

// NewClient creates a Client for the given base URL; empty means the
// production endpoint.
func NewClient(base string) *Client {
	if base == "" {
		base = defaultRESTBase
	}
	return &Client{
		http:           &http.Client{Timeout: 10 * time.Second},
		base:           base,
		priceLimiter:   rate.NewLimiter(priceRatePerSec, 5),
		fundingLimiter: rate.NewLimiter(fundingRatePerSec, 2),
	}
}

type tickerPriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	LastFundingRate string `json:"lastFundingRate"`
}

// FetchPrice returns the last traded price for the instrument.
func (c *Client) FetchPrice(ctx context.Context, instrument string) (float64, error) {
	var out tickerPriceResponse
	u := fmt.Sprintf("%s/fapi/v1/ticker/price?symbol=%s", c.base, url.QueryEscape(instrument))
	if err := c.get(ctx, c.priceLimiter, u, &out); err != nil {
		return 0, fmt.Errorf("exchange.FetchPrice: %s: %w", instrument, err)
	}
	price, err := strconv.ParseFloat(out.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("exchange.FetchPrice: parse price %q: %w", out.Price, err)
	}
	return price, nil
}

// FetchFundingRate returns the current funding rate for the instrument.
func (c *Client) FetchFundingRate(ctx context.Context, instrument string) (float64, error) {
	var out premiumIndexResponse
	u := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", c.base, url.QueryEscape(instrument))
	if err := c.get(ctx, c.fundingLimiter, u, &out); err != nil {
		return 0, fmt.Errorf("exchange.FetchFundingRate: %s: %w", instrument, err)
	}
	fr, err := strconv.ParseFloat(out.LastFundingRate, 64)
	if err != nil {
		return 0, fmt.Errorf("exchange.FetchFundingRate: parse rate %q: %w", out.LastFundingRate, err)
	}
	return fr, nil
}

// get performs a GET with rate limiting and retries.
func (c *Client) get(ctx context.Context, limiter *rate.Limiter, url string, out any) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if attempt == maxRetries {
				return fmt.Errorf("request failed after %d retries: %w", maxRetries, err)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			resp.Body.Close()
			slog.Warn("exchange: rate limited by API", "attempt", attempt+1)
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			if attempt == maxRetries {
				return fmt.Errorf("server error %d after %d retries", resp.StatusCode, maxRetries)
			}
			c.sleep(ctx, attempt)
			continue
		}

		if resp.StatusCode >= 400 {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return fmt.Errorf("client error %d: %s", resp.StatusCode, string(body))
		}

		err = json.NewDecoder(resp.Body).Decode(out)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
	return fmt.Errorf("exhausted %d retries", maxRetries)
}

// sleep waits with exponential backoff, respecting the context.
func (c *Client) sleep(ctx context.Context, attempt int) {
	wait := time.Duration(math.Pow(2, float64(attempt))) * baseRetryWait
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
