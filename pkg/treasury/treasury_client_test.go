package treasury_client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"factorlab/internal/domain"

	"github.com/stretchr/testify/require"
)

func Test_interestRateMonthsFromApi(t *testing.T) {
	for in, expected := range map[string]int{
		"yield_1m":  1,
		"yield_3m":  3,
		"yield_1y":  12,
		"yield_30y": 360,
	} {
		months, err := interestRateMonthsFromApi(in)
		require.NoError(t, err)
		require.Equal(t, expected, months, in)
	}

	_, err := interestRateMonthsFromApi("yield_")
	require.Error(t, err)
}

func TestClient_GetRiskFreeRate(t *testing.T) {
	t.Run("reads 3 month yield", func(t *testing.T) {
		requested := []string{}
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requested = append(requested, r.URL.Query().Get("date"))
			w.Write([]byte(`[{"yield_1m": 4.0, "yield_3m": 5.25, "yield_10y": 3.9}]`))
		}))
		defer server.Close()

		c := NewClient()
		c.BaseURL = server.URL
		rate, err := c.GetRiskFreeRate(context.Background(), time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.InDelta(t, 0.0525, rate, 1e-12)

		// cached
		_, err = c.GetRiskFreeRate(context.Background(), time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Equal(t, []string{"2023-03-01"}, requested)
	})

	t.Run("walks back a month when the day is empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("date") == "2023-01-01" {
				w.Write([]byte(`[{"yield_1m": null, "yield_3m": null}]`))
				return
			}
			w.Write([]byte(`[{"yield_1m": 4.0, "yield_6m": 5.0}]`))
		}))
		defer server.Close()

		c := NewClient()
		c.BaseURL = server.URL
		rate, err := c.GetRiskFreeRate(context.Background(), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		// midpoint of 1m and 6m
		require.InDelta(t, 0.045, rate, 1e-12)
	})

	t.Run("gives up after a year", func(t *testing.T) {
		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Write([]byte(`[]`))
		}))
		defer server.Close()

		c := NewClient()
		c.BaseURL = server.URL
		_, err := c.GetRiskFreeRate(context.Background(), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
		require.ErrorIs(t, err, domain.ErrDataUnavailable)
		require.Equal(t, maxLookbackMonths+1, calls)
	})

	t.Run("surfaces http errors", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		c := NewClient()
		c.BaseURL = server.URL
		_, err := c.GetRiskFreeRate(context.Background(), time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
		require.ErrorContains(t, err, "500")
	})
}
