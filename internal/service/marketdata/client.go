package marketdata

import (
	"context"
	"time"

	"EnigmaHub/internal/domain/models"
	domrepo "EnigmaHub/internal/domain/repository"
	xhttp "EnigmaHub/pkg/http"
)

// Client fetches quotes from a REST market data provider.
type Client struct {
	http    *xhttp.Client
	baseURL string
	apiKey  string
}

// New creates a MarketDataSource over the provider's quote endpoint.
func New(baseURL, apiKey string, timeout time.Duration) domrepo.MarketDataSource {
	return &Client{
		http:    xhttp.NewClient(xhttp.WithTimeout(timeout)),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

// quote response schema: c = current price, d = change, t = unix seconds
type quoteResponse struct {
	Current float64 `json:"c"`
	Change  float64 `json:"d"`
	Time    int64   `json:"t"`
}

func (c *Client) Latest(ctx context.Context, symbol string) (*models.Quote, error) {
	var resp quoteResponse
	err := c.http.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    c.baseURL + "/quote",
		QueryParams: map[string][]string{
			"symbol": {symbol},
			"token":  {c.apiKey},
		},
	}, &resp)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if resp.Time > 0 {
		ts = time.Unix(resp.Time, 0)
	}
	return &models.Quote{
		Symbol:    symbol,
		Price:     resp.Current,
		Change:    resp.Change,
		Timestamp: ts,
	}, nil
}
