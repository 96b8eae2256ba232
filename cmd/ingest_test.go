package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"factorlab/internal/config"
	"factorlab/internal/domain"
	"factorlab/internal/repository"
	mock_repository "factorlab/internal/repository/mocks"
	l1_service "factorlab/internal/service/l1"
	"factorlab/pkg/datajockey"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newDate(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestIngestCommand_fundamentalsRequiresApiKey(t *testing.T) {
	t.Setenv(config.EnvDataJockey, "")
	_, factoryCalls, execute := newTestRoot(t)

	err := execute("ingest", "--symbols", "AAPL", "--fundamentals")
	var ce domain.ConfigError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "value.datajockey_api_key", ce.Field)
	require.Equal(t, 0, *factoryCalls)
}

func TestIngestCommand_fundamentals(t *testing.T) {
	t.Setenv(config.EnvDataJockey, "dj-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"financial_data": {"quarterly": {"eps_diluted": {
			"2021Q1": 1, "2021Q2": 1, "2021Q3": 1, "2021Q4": 1.5
		}}}}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	fundamentalsPath := filepath.Join(dir, "fundamentals.csv")
	configPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
factors: [value, momentum]
value:
  fundamentals_file: `+fundamentalsPath+`
`), 0o644))

	ctrl := gomock.NewController(t)
	provider := mock_repository.NewMockPriceProvider(ctrl)
	store := mock_repository.NewMockPriceStore(ctrl)
	provider.EXPECT().GetPrices(gomock.Any(), "AAPL", gomock.Any(), gomock.Any()).Return([]domain.AssetPrice{
		{Symbol: "AAPL", Date: newDate(2022, 1, 3), Price: 180},
	}, nil)
	store.EXPECT().Add(gomock.Any(), gomock.Any()).Return(nil)

	factory := func(cfg *config.Config) (*Dependencies, error) {
		deps, err := NewDependencies(cfg, store, provider)
		if err != nil {
			return nil, err
		}
		require.NotNil(t, deps.FundamentalsService)
		client := datajockey.NewClient(cfg.Value.DataJockeyApiKey)
		client.BaseURL = server.URL
		deps.FundamentalsService = l1_service.NewFundamentalsService(client)
		return deps, nil
	}

	stdout := &bytes.Buffer{}
	root := NewRootCommand(Options{
		Stdout:          stdout,
		NewDependencies: factory,
	})
	root.SetArgs([]string{"--config", configPath, "ingest", "--symbols", "AAPL", "--start", "2022-01-01", "--end", "2022-06-30", "--fundamentals"})
	root.SetErr(&bytes.Buffer{})
	require.NoError(t, root.ExecuteContext(context.Background()))
	require.Contains(t, stdout.String(), "wrote 1 eps records to "+fundamentalsPath)

	repo, err := repository.NewAssetFundamentalsRepository(fundamentalsPath)
	require.NoError(t, err)
	f := repo.Get("AAPL", newDate(2022, 3, 1))
	require.NotNil(t, f)
	require.Equal(t, 4.5, f.EPS)
}
