package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigFillsEveryTimeoutAndEndpoint(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	require.Equal(t, WAWebSocketURL, cfg.WAWebSocketURL)
	require.Equal(t, DefaultConnectTimeoutMs, cfg.ConnectTimeoutMs)
	require.Equal(t, DefaultKeepAliveIntervalMs, cfg.KeepAliveIntervalMs)
	require.NotNil(t, cfg.DefaultQueryTimeoutMs)
	require.Equal(t, DefaultQueryTimeoutMs, *cfg.DefaultQueryTimeoutMs)
}

func TestDefaultConfigReportsANonZeroClientVersionAndBrowser(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	require.NotZero(t, cfg.Version.Major)
	require.NotZero(t, cfg.Version.Minor)
	require.NotEmpty(t, cfg.Browser.Vendor)
	require.NotEmpty(t, cfg.Browser.Name)
}

func TestDefaultConfigDoesNotProvideAnAuthStoreOrLogger(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Nil(t, cfg.Auth)
	require.Nil(t, cfg.Logger)
}
