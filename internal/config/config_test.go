package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
redis:
  addr: "localhost:6379"
telemetry:
  serviceName: "intentexec"
  tracingEnabled: true
generator:
  provider: "anthropic"
  defaultModel: "claude-3.5-sonnet"
defaultStepTimeoutMs: 10000
toolTimeouts:
  - toolName: "slow.tool"
    timeoutMs: 60000
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_ParsesConfigFile(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "anthropic", cfg.Generator.Provider)
	assert.True(t, cfg.Telemetry.TracingEnabled)
}

func TestTimeoutFor_UsesOverrideWhenPresent(t *testing.T) {
	path := writeTempConfig(t, sampleConfig)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(60000), cfg.TimeoutFor("slow.tool").Milliseconds())
	assert.Equal(t, int64(10000), cfg.TimeoutFor("other.tool").Milliseconds())
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
