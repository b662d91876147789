// Package marketdata fetches the raw on-chain and market metrics a vendor
// scores a token on. It composes a block-explorer client (source code
// presence, total supply) with a market-data client (age, activity,
// volume, market cap).
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/token"
)

// ErrDataUnavailable is returned when an upstream provider fails or has
// no data for the token. Retry with backoff is the caller's concern.
var ErrDataUnavailable = errors.New("token metrics unavailable")

// TokenInfo is descriptive metadata fetched alongside the metrics.
type TokenInfo struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Provider fetches one evaluation's worth of metrics for a token.
type Provider interface {
	FetchMetrics(ctx context.Context, addr token.Address) (circuit.RawMetrics, TokenInfo, error)
}

// Client is the production Provider backed by Etherscan and CoinMarketCap.
type Client struct {
	explorer *EtherscanClient
	market   *CoinMarketCapClient
	now      func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for all upstream calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.explorer.httpClient = hc
		c.market.httpClient = hc
	}
}

// WithEndpoints overrides the upstream base URLs, mainly for tests.
func WithEndpoints(etherscanURL, cmcURL string) Option {
	return func(c *Client) {
		if etherscanURL != "" {
			c.explorer.baseURL = etherscanURL
		}
		if cmcURL != "" {
			c.market.baseURL = cmcURL
		}
	}
}

// WithClock overrides the time source used to derive days_ago_added.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a Provider using the given upstream API keys.
func NewClient(etherscanKey, cmcKey string, opts ...Option) *Client {
	hc := &http.Client{Timeout: 15 * time.Second}
	c := &Client{
		explorer: NewEtherscanClient(etherscanKey, hc),
		market:   NewCoinMarketCapClient(cmcKey, hc),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchMetrics assembles the full metric tuple for one evaluation. Any
// upstream failure surfaces as ErrDataUnavailable; no metric is ever
// substituted with a default.
func (c *Client) FetchMetrics(ctx context.Context, addr token.Address) (circuit.RawMetrics, TokenInfo, error) {
	listing, err := c.market.TokenListing(ctx, addr)
	if err != nil {
		return circuit.RawMetrics{}, TokenInfo{}, fmt.Errorf("%w: listing: %v", ErrDataUnavailable, err)
	}

	quote, err := c.market.LatestQuote(ctx, listing.ID)
	if err != nil {
		return circuit.RawMetrics{}, TokenInfo{}, fmt.Errorf("%w: market quote: %v", ErrDataUnavailable, err)
	}

	hasSource, err := c.explorer.HasVerifiedSource(ctx, addr)
	if err != nil {
		return circuit.RawMetrics{}, TokenInfo{}, fmt.Errorf("%w: source code: %v", ErrDataUnavailable, err)
	}

	supply, err := c.explorer.TokenTotalSupply(ctx, addr)
	if err != nil {
		return circuit.RawMetrics{}, TokenInfo{}, fmt.Errorf("%w: total supply: %v", ErrDataUnavailable, err)
	}

	daysAgo := int64(c.now().UTC().Sub(listing.DateAdded).Hours() / 24)
	if daysAgo < 0 {
		daysAgo = 0
	}

	metrics := circuit.RawMetrics{
		DaysAgoAdded:  uint64(daysAgo),
		IsActive:      quote.IsActive,
		Volume:        quote.Volume,
		MarketCap:     quote.MarketCap,
		TotalSupply:   supply,
		HasSourceCode: hasSource,
	}
	info := TokenInfo{Name: listing.Name, Symbol: listing.Symbol}
	return metrics, info, nil
}
