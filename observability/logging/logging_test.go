package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestSetupWritesRotatingFile(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	path := filepath.Join(t.TempDir(), "lendingd.log")
	logger, closer := SetupWithOptions(Options{Service: "lendingd", Env: "test", Level: "debug", File: path})
	logger.Debug("reserve initialised", "asset", "0xd1", "api_token", "s3cret-value")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	require.True(t, strings.Contains(line, `"message":"reserve initialised"`), line)
	require.True(t, strings.Contains(line, `"severity":"DEBUG"`), line)
	require.True(t, strings.Contains(line, `"service":"lendingd"`), line)
	require.True(t, strings.Contains(line, `"env":"test"`), line)
	require.True(t, strings.Contains(line, `"api_token":"[REDACTED]"`), line)
	require.False(t, strings.Contains(line, "s3cret"), line)
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("api_token", "secret").Value.String())
	require.Equal(t, RedactedValue, MaskField("Authorization", "Bearer abc").Value.String())
	require.Equal(t, "lendingd", MaskField("service", "lendingd").Value.String())
	require.Equal(t, "", MaskField("authorization", "").Value.String())
	require.True(t, IsSensitive("otlp_api_key"))
	require.False(t, IsSensitive("asset"))
}

func TestMaskToken(t *testing.T) {
	require.Equal(t, RedactedValue+"wxyz", MaskToken("token-abcdwxyz"))
	require.Equal(t, RedactedValue, MaskToken("short"))
	require.Equal(t, "", MaskToken(" "))
}
