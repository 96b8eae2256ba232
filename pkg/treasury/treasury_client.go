package treasury_client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"factorlab/internal/domain"
)

const (
	DefaultBaseURL = "https://www.ustreasuryyieldcurve.com"
	// the rate used for Sharpe
	riskFreeMonths = 3
	// how far back to look for a day with published yields
	maxLookbackMonths = 12
)

var yieldKeys = []string{
	"yield_1m",
	"yield_2m",
	"yield_3m",
	"yield_4m",
	"yield_6m",
	"yield_1y",
	"yield_2y",
	"yield_3y",
	"yield_5y",
	"yield_7y",
	"yield_10y",
	"yield_20y",
	"yield_30y",
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	// lazy, in-memory cache of responses by date
	cache map[string][]byte
}

func NewClient() *Client {
	return &Client{
		BaseURL:    DefaultBaseURL,
		HTTPClient: http.DefaultClient,
		cache:      map[string][]byte{},
	}
}

func interestRateMonthsFromApi(in string) (int, error) {
	cleanedStr := strings.Replace(in, "yield_", "", 1)
	if len(cleanedStr) < 2 {
		return 0, fmt.Errorf("unexpected yield key '%s'", in)
	}
	unit := string(cleanedStr[len(cleanedStr)-1])
	cleanedStr = cleanedStr[:len(cleanedStr)-1]
	months, err := strconv.Atoi(cleanedStr)
	if err != nil {
		return 0, err
	}

	if unit == "y" {
		months *= 12
	}

	return months, nil
}

func (c *Client) getBytes(ctx context.Context, date time.Time) ([]byte, error) {
	tStr := date.Format(time.DateOnly)
	if c.cache == nil {
		c.cache = map[string][]byte{}
	}
	if out, ok := c.cache[tStr]; ok {
		return out, nil
	}

	u := fmt.Sprintf("%s/api/v1/yield_curve_snapshot?date=%s&offset=0", strings.TrimRight(c.BaseURL, "/"), url.QueryEscape(tStr))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	response, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	responseBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("received status code %d and failed to read body: %w", response.StatusCode, err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed with status code %d: %s", response.StatusCode, string(responseBytes))
	}

	c.cache[tStr] = responseBytes
	return responseBytes, nil
}

// GetInterestRatesOnDay returns the yield curve published for date. Days
// without data (weekends, holidays) walk back a month at a time.
func (c *Client) GetInterestRatesOnDay(ctx context.Context, date time.Time) (domain.InterestRateMap, error) {
	for i := 0; i <= maxLookbackMonths; i++ {
		rates, err := c.ratesOn(ctx, date.AddDate(0, -i, 0))
		if err != nil {
			return domain.InterestRateMap{}, err
		}
		if len(rates) > 0 {
			return domain.InterestRateMap{Rates: rates}, nil
		}
	}
	return domain.InterestRateMap{}, fmt.Errorf("no yields published within %d months of %s: %w", maxLookbackMonths, date.Format(time.DateOnly), domain.ErrDataUnavailable)
}

func (c *Client) ratesOn(ctx context.Context, date time.Time) (map[int]float64, error) {
	responseBytes, err := c.getBytes(ctx, date)
	if err != nil {
		return nil, err
	}

	responseBody := []map[string]interface{}{}
	if err := json.Unmarshal(responseBytes, &responseBody); err != nil {
		return nil, fmt.Errorf("failed to parse yield curve for %s: %w", date.Format(time.DateOnly), err)
	}

	out := map[int]float64{}
	for _, response := range responseBody {
		for _, field := range yieldKeys {
			v, ok := response[field]
			if !ok || v == nil {
				continue
			}
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("unexpected value %v for %s", v, field)
			}
			months, err := interestRateMonthsFromApi(field)
			if err != nil {
				return nil, err
			}
			out[months] = f / 100
		}
	}

	return out, nil
}

// GetRiskFreeRate is the annual 3-month Treasury yield on date, as a
// decimal.
func (c *Client) GetRiskFreeRate(ctx context.Context, date time.Time) (float64, error) {
	rates, err := c.GetInterestRatesOnDay(ctx, date)
	if err != nil {
		return 0, err
	}
	return rates.GetRate(riskFreeMonths)
}
