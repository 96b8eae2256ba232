package datajockey

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"factorlab/internal/domain"
	"factorlab/internal/logger"
)

const (
	DefaultBaseURL = "https://api.datajockey.io"
	// the api allows a burst per minute
	defaultRateLimitWait = 60 * time.Second
	maxRateLimitRetries  = 3
)

type Client struct {
	BaseURL    string
	ApiKey     string
	HttpClient *http.Client
	// how long to sleep after a 429
	RateLimitWait time.Duration
}

func NewClient(apiKey string) *Client {
	return &Client{
		BaseURL:       DefaultBaseURL,
		ApiKey:        apiKey,
		HttpClient:    http.DefaultClient,
		RateLimitWait: defaultRateLimitWait,
	}
}

// Fields maps a period key, e.g. "2021Q3", to the reported value.
type Fields struct {
	NetIncome                map[string]int64   `json:"net_income"`
	SharesOutstandingDiluted map[string]int64   `json:"shares_outstanding_diluted"`
	SharesOutstandingBasic   map[string]int64   `json:"shares_outstanding_basic"`
	EpsDiluted               map[string]float64 `json:"eps_diluted"`
	EpsBasic                 map[string]float64 `json:"eps_basic"`
}

type FinancialResponse struct {
	Currency    string `json:"currency"`
	CompanyInfo struct {
		CIK    string `json:"cik"`
		Ticker string `json:"ticker"`
		Name   string `json:"name"`
	} `json:"company_info"`
	FinancialData struct {
		Quarterly Fields `json:"quarterly"`
		Annual    Fields `json:"annual"`
	} `json:"financial_data"`
}

// GetAssetMetrics returns quarterly financials for symbol. A 404 is
// reported as domain.ErrDataUnavailable.
func (c Client) GetAssetMetrics(ctx context.Context, symbol string) (*FinancialResponse, error) {
	params := url.Values{}
	params.Set("apikey", c.ApiKey)
	params.Set("ticker", symbol)
	params.Set("period", "Q")
	u := fmt.Sprintf("%s/v0/company/financials?%s", strings.TrimRight(c.BaseURL, "/"), params.Encode())

	httpClient := c.HttpClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		response, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		responseBytes, err := io.ReadAll(response.Body)
		response.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("received status code %d and failed to read body: %w", response.StatusCode, err)
		}

		switch response.StatusCode {
		case http.StatusOK:
			var responseJson FinancialResponse
			if err := json.Unmarshal(responseBytes, &responseJson); err != nil {
				return nil, fmt.Errorf("failed to parse financials for %s: %w", symbol, err)
			}
			return &responseJson, nil
		case http.StatusTooManyRequests:
			if attempt >= maxRateLimitRetries {
				return nil, fmt.Errorf("rate limited %d times fetching %s", attempt+1, symbol)
			}
			logger.FromContext(ctx).Debugf("hit rate limit. sleeping %s...", c.RateLimitWait)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.RateLimitWait):
			}
		case http.StatusNotFound:
			return nil, fmt.Errorf("no financials for %s: %w", symbol, domain.ErrDataUnavailable)
		default:
			type errResponse struct {
				Error string `json:"error"`
			}
			errJson := errResponse{}
			if err := json.Unmarshal(responseBytes, &errJson); err != nil {
				return nil, fmt.Errorf("received status code %d and failed to read error: %w", response.StatusCode, err)
			}
			return nil, fmt.Errorf("failed with status code %d: %s", response.StatusCode, errJson.Error)
		}
	}
}
