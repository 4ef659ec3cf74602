package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(FileEnv, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "3001", cfg.HealthPort)
	assert.Equal(t, "http://127.0.0.1:8000/analyze", cfg.Analysis.URL)
	assert.Equal(t, 30*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, 60*time.Second, cfg.Ledger.CommitTimeout)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Auth.Required)
	assert.False(t, cfg.LedgerConfigured())
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("PORT", "8080")
	t.Setenv("ML_API_URL", "http://ml:9000/analyze")
	t.Setenv("ANALYSIS_TIMEOUT", "5s")
	t.Setenv("COMMIT_TIMEOUT", "1500")
	t.Setenv("JWT_EXPIRY", "2d")
	t.Setenv("AUTH_REQUIRED", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("RATE_LIMIT_RPM", "120")
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("PRIVATE_KEY", "0xabc")
	t.Setenv("CONTRACT_ADDRESS", "0x0000000000000000000000000000000000000001")
	t.Setenv("LEDGER_MAX_INFLIGHT", "4")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "http://ml:9000/analyze", cfg.Analysis.URL)
	assert.Equal(t, 5*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ledger.CommitTimeout)
	assert.Equal(t, 48*time.Hour, cfg.Auth.TokenTTL)
	assert.True(t, cfg.Auth.Required)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Auth.CORSOrigins)
	assert.Equal(t, 120, cfg.RateLimit.RPM)
	assert.Equal(t, 4, cfg.Ledger.MaxInflight)
	assert.True(t, cfg.LedgerConfigured())
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv(FileEnv, "")
	t.Setenv("RATE_LIMIT_RPM", "lots")
	t.Setenv("ANALYSIS_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RATE_LIMIT_RPM")
	assert.Contains(t, err.Error(), "ANALYSIS_TIMEOUT")
}

func TestLoadFile_OverlayThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truthtag.yaml")
	yml := `
port: "4000"
max_upload_bytes: 2048
analysis:
  url: http://file-ml/analyze
  timeout: 12s
ledger:
  rpc_url: http://chain:8545
  private_key: YOUR_PRIVATE_KEY
  contract_address: "0x01"
  commit_timeout: 20s
rate_limit:
  rpm: 30
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))
	t.Setenv("PORT", "5000")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "5000", cfg.Port, "env wins over file")
	assert.Equal(t, int64(2048), cfg.MaxUploadBytes)
	assert.Equal(t, "http://file-ml/analyze", cfg.Analysis.URL)
	assert.Equal(t, 12*time.Second, cfg.Analysis.Timeout)
	assert.Equal(t, 20*time.Second, cfg.Ledger.CommitTimeout)
	assert.Equal(t, "http://chain:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, 30, cfg.RateLimit.RPM)
	assert.False(t, cfg.LedgerConfigured(), "placeholder key keeps ledger degraded")
	assert.Equal(t, "3001", cfg.HealthPort, "unset keys keep defaults")
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestParseDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"250":  250 * time.Millisecond,
		"7d":   7 * 24 * time.Hour,
		"90s":  90 * time.Second,
		"1h5m": time.Hour + 5*time.Minute,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"xd", "-1d", "later"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}
