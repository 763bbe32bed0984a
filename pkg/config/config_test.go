package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/triage/pkg/contracts"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("AUDIT_FLUSH_INTERVAL", "")
	t.Setenv("AUDIT_MAX_BUFFER", "")

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 100, cfg.MaxAuditBuffer)
	assert.Equal(t, "triage-audit.db", cfg.SQLitePath)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AUDIT_FLUSH_INTERVAL", "250ms")
	t.Setenv("AUDIT_MAX_BUFFER", "42")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval)
	assert.Equal(t, 42, cfg.MaxAuditBuffer)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestLoadIgnoresMalformedDurations(t *testing.T) {
	t.Setenv("AUDIT_FLUSH_INTERVAL", "soon")
	t.Setenv("AUDIT_MAX_BUFFER", "-3")

	cfg := Load()
	assert.Equal(t, 5*time.Second, cfg.FlushInterval)
	assert.Equal(t, 100, cfg.MaxAuditBuffer)
}

func writePolicy(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadPolicyMergesDefaults(t *testing.T) {
	path := writePolicy(t, `
thresholds:
  emergency: 0.97
trigger_rules:
  - name: volunteer-review
    expression: 'risk >= 50.0 && message_type == "volunteer"'
    priority: HIGH
    case_type: escalation_review
model_weights:
  toxicity: 0.5
`)

	policy, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, 0.97, policy.Thresholds.Emergency)
	assert.Equal(t, 0.8, policy.Thresholds.Critical, "unset fields keep defaults")
	require.Len(t, policy.TriggerRules, 1)
	assert.Equal(t, contracts.PriorityHigh, policy.TriggerRules[0].Priority)
	assert.Equal(t, 0.5, policy.ModelWeights["toxicity"])
}

func TestLoadPolicyRejectsUnorderedThresholds(t *testing.T) {
	path := writePolicy(t, `
thresholds:
  emergency: 0.5
  critical: 0.8
  high: 0.6
  moderate: 0.4
`)

	_, err := LoadPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly decreasing")
}

func TestLoadPolicyRejectsBadWeight(t *testing.T) {
	path := writePolicy(t, `
model_weights:
  toxicity: -1
`)

	_, err := LoadPolicy(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestLoadPolicyMissingFile(t *testing.T) {
	_, err := LoadPolicy(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
