package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pendergraft/trustgate/internal/token"
)

const defaultCoinMarketCapURL = "https://pro-api.coinmarketcap.com"

// cmcTimeFormat is the timestamp layout CoinMarketCap uses for date_added.
const cmcTimeFormat = "2006-01-02T15:04:05.000Z"

// CoinMarketCapClient queries the CoinMarketCap pro API.
type CoinMarketCapClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinMarketCapClient creates a client with the given API key.
func NewCoinMarketCapClient(apiKey string, hc *http.Client) *CoinMarketCapClient {
	return &CoinMarketCapClient{
		baseURL:    defaultCoinMarketCapURL,
		apiKey:     apiKey,
		httpClient: hc,
	}
}

// Listing is the CMC registry entry for a token contract.
type Listing struct {
	ID        string
	Name      string
	Symbol    string
	DateAdded time.Time
}

// Quote is one market-data observation.
type Quote struct {
	IsActive  bool
	Volume    uint64
	MarketCap uint64
}

type cmcInfoResponse struct {
	Data map[string]struct {
		ID        int    `json:"id"`
		Name      string `json:"name"`
		Symbol    string `json:"symbol"`
		DateAdded string `json:"date_added"`
	} `json:"data"`
}

type cmcQuoteResponse struct {
	Data struct {
		IsActive int `json:"is_active"`
		Quotes   []struct {
			Quote struct {
				USD struct {
					Volume24h float64 `json:"volume_24h"`
					MarketCap float64 `json:"market_cap"`
				} `json:"USD"`
			} `json:"quote"`
		} `json:"quotes"`
	} `json:"data"`
}

// TokenListing resolves a contract address to its CMC listing.
func (c *CoinMarketCapClient) TokenListing(ctx context.Context, addr token.Address) (*Listing, error) {
	params := url.Values{"address": {addr.Hex()}}
	var resp cmcInfoResponse
	if err := c.get(ctx, "/v2/cryptocurrency/info", params, &resp); err != nil {
		return nil, err
	}
	for id, entry := range resp.Data {
		added, err := time.Parse(cmcTimeFormat, entry.DateAdded)
		if err != nil {
			return nil, fmt.Errorf("coinmarketcap: parsing date_added %q: %w", entry.DateAdded, err)
		}
		return &Listing{ID: id, Name: entry.Name, Symbol: entry.Symbol, DateAdded: added}, nil
	}
	return nil, fmt.Errorf("coinmarketcap: no listing for %s", addr.Hex())
}

// LatestQuote fetches the most recent market observation for a listing.
func (c *CoinMarketCapClient) LatestQuote(ctx context.Context, listingID string) (*Quote, error) {
	params := url.Values{"id": {listingID}, "interval": {"365d"}}
	var resp cmcQuoteResponse
	if err := c.get(ctx, "/v2/cryptocurrency/quotes/historical", params, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data.Quotes) == 0 {
		return nil, fmt.Errorf("coinmarketcap: no quotes for listing %s", listingID)
	}
	usd := resp.Data.Quotes[len(resp.Data.Quotes)-1].Quote.USD
	if usd.Volume24h < 0 || usd.MarketCap < 0 {
		return nil, fmt.Errorf("coinmarketcap: negative market data for listing %s", listingID)
	}
	return &Quote{
		IsActive:  resp.Data.IsActive == 1,
		Volume:    uint64(usd.Volume24h),
		MarketCap: uint64(usd.MarketCap),
	}, nil
}

func (c *CoinMarketCapClient) get(ctx context.Context, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coinmarketcap: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
