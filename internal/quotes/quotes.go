package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stockledger/internal/models"

	"github.com/shopspring/decimal"
)

// ErrSymbolNotFound means the provider has no price for the symbol
var ErrSymbolNotFound = errors.New("symbol not found")

// Provider returns the current price for a symbol. Any error other than
// ErrSymbolNotFound means the provider itself failed.
type Provider interface {
	Lookup(ctx context.Context, symbol string) (*models.Quote, error)
}

// Client fetches quotes from the Alpha Vantage GLOBAL_QUOTE endpoint
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

const defaultBaseURL = "https://www.alphavantage.co"

// NewClient creates a quote client for the given API key
func NewClient(apiKey string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type globalQuoteResponse struct {
	GlobalQuote struct {
		Symbol string `json:"01. symbol"`
		Price  string `json:"05. price"`
	} `json:"Global Quote"`
}

// Lookup fetches the current price for symbol
func (c *Client) Lookup(ctx context.Context, symbol string) (*models.Quote, error) {
	symbol = strings.ToUpper(symbol)
	u := fmt.Sprintf("%s/query?function=GLOBAL_QUOTE&symbol=%s&apikey=%s",
		c.BaseURL, url.QueryEscape(symbol), url.QueryEscape(c.APIKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote provider returned status %d", resp.StatusCode)
	}

	var result globalQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse quote response: %w", err)
	}

	// Alpha Vantage answers unknown symbols with an empty Global Quote
	if result.GlobalQuote.Price == "" {
		return nil, ErrSymbolNotFound
	}

	price, err := decimal.NewFromString(result.GlobalQuote.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q for %s: %w", result.GlobalQuote.Price, symbol, err)
	}

	name := result.GlobalQuote.Symbol
	if name == "" {
		name = symbol
	}
	return &models.Quote{Symbol: symbol, Name: name, Price: price}, nil
}
