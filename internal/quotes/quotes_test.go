package quotes

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(handler http.HandlerFunc) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewClient("test-key")
	client.BaseURL = server.URL
	return client, server
}

func TestClientLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
			assert.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
			assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
			fmt.Fprint(w, `{"Global Quote": {"01. symbol": "AAPL", "05. price": "187.5000"}}`)
		})
		defer server.Close()

		quote, err := client.Lookup(ctx, "aapl")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", quote.Symbol)
		assert.True(t, quote.Price.Equal(decimal.RequireFromString("187.50")), "price = %s", quote.Price)
	})

	t.Run("UnknownSymbol", func(t *testing.T) {
		// Alpha Vantage answers unknown symbols with an empty object
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Global Quote": {}}`)
		})
		defer server.Close()

		_, err := client.Lookup(ctx, "ZZZZ")
		assert.ErrorIs(t, err, ErrSymbolNotFound)
	})

	t.Run("ProviderError", func(t *testing.T) {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		defer server.Close()

		_, err := client.Lookup(ctx, "AAPL")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSymbolNotFound)
	})

	t.Run("MalformedPrice", func(t *testing.T) {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"Global Quote": {"01. symbol": "AAPL", "05. price": "not-a-number"}}`)
		})
		defer server.Close()

		_, err := client.Lookup(ctx, "AAPL")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrSymbolNotFound)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		client, server := newTestClient(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{`)
		})
		defer server.Close()

		_, err := client.Lookup(ctx, "AAPL")
		require.Error(t, err)
	})
}
