package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pendergraft/trustgate/internal/token"
)

const defaultEtherscanURL = "https://api.etherscan.io/api"

// EtherscanClient queries the Etherscan module/action API.
type EtherscanClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewEtherscanClient creates a client with the given API key.
func NewEtherscanClient(apiKey string, hc *http.Client) *EtherscanClient {
	return &EtherscanClient{
		baseURL:    defaultEtherscanURL,
		apiKey:     apiKey,
		httpClient: hc,
	}
}

type etherscanSourceResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  []struct {
		SourceCode string `json:"SourceCode"`
	} `json:"result"`
}

type etherscanSupplyResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// HasVerifiedSource reports whether the contract has verified source code
// published on the explorer.
func (c *EtherscanClient) HasVerifiedSource(ctx context.Context, addr token.Address) (bool, error) {
	params := url.Values{
		"module":  {"contract"},
		"action":  {"getsourcecode"},
		"address": {addr.Hex()},
		"apikey":  {c.apiKey},
	}
	var resp etherscanSourceResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return false, err
	}
	if len(resp.Result) == 0 {
		return false, nil
	}
	return resp.Result[0].SourceCode != "", nil
}

// TokenTotalSupply fetches the ERC-20 total supply.
func (c *EtherscanClient) TokenTotalSupply(ctx context.Context, addr token.Address) (uint64, error) {
	params := url.Values{
		"module":          {"stats"},
		"action":          {"tokensupply"},
		"contractaddress": {addr.Hex()},
		"apikey":          {c.apiKey},
	}
	var resp etherscanSupplyResponse
	if err := c.get(ctx, params, &resp); err != nil {
		return 0, err
	}
	if resp.Status != "1" {
		return 0, fmt.Errorf("etherscan: %s", resp.Message)
	}
	supply, err := strconv.ParseUint(resp.Result, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("etherscan: parsing supply %q: %w", resp.Result, err)
	}
	return supply, nil
}

func (c *EtherscanClient) get(ctx context.Context, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("etherscan: unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
