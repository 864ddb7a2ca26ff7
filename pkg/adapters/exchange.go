package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultExchangeBase = "https://v6.exchangerate-api.com"

// ExchangeClient looks up currency-pair conversion rates.
type ExchangeClient struct {
	httpClient *http.Client
	apiBase    string
	apiKey     string
}

// NewExchangeClient creates an exchange-rate lookup client.
func NewExchangeClient(apiKey string) *ExchangeClient {
	return &ExchangeClient{
		httpClient: http.DefaultClient,
		apiBase:    defaultExchangeBase,
		apiKey:     apiKey,
	}
}

// NewExchangeClientWithBase points the client at a custom API base. Test seam.
func NewExchangeClientWithBase(apiBase, apiKey string) *ExchangeClient {
	return &ExchangeClient{httpClient: http.DefaultClient, apiBase: apiBase, apiKey: apiKey}
}

type exchangeResponse struct {
	Result         string  `json:"result"`
	ErrorType      string  `json:"error-type"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Rate fetches the conversion rate from base to quote currency.
func (e *ExchangeClient) Rate(ctx context.Context, base, quote string) (float64, error) {
	endpoint := fmt.Sprintf("%s/v6/%s/pair/%s/%s", e.apiBase, e.apiKey, base, quote)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("build exchange request: %w", err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("exchange call: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("read exchange response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("exchange API status %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed exchangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decode exchange response: %w", err)
	}
	if parsed.Result != "success" {
		return 0, fmt.Errorf("exchange API error: %s", parsed.ErrorType)
	}
	return parsed.ConversionRate, nil
}
