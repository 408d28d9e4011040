package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventscope/extractor/internal/app"
	"github.com/eventscope/extractor/internal/config"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.Server.Port = 8080
	cfg.Extraction.MaxPages = 5
	cfg.Mapper.UseLocal = true
	cfg.Storage.Provider = "none"
	return cfg
}

func TestNewWithMemoryServices(t *testing.T) {
	cfg := baseConfig(t)

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Engine())
	assert.NotNil(t, a.JobStore())
	assert.NotNil(t, a.Handler())
	assert.NotNil(t, a.Logger())
}

func TestNewWithLocalBlobStore(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Provider = "local"
	cfg.Storage.LocalDir = t.TempDir()

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.Close()
}

func TestNewRejectsUnknownStorageProvider(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage.Provider = "tape"

	_, err := app.New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage provider")
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := baseConfig(t)

	a, err := app.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	a.Close()
	a.Close()
}
