package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/havenline/triage/pkg/contracts"
)

func TestDisabledProviderIsNoOp(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	// Nothing to record against, nothing should panic.
	p.RecordDecision(context.Background(), contracts.ActionAllow, 10*time.Millisecond)
	p.RecordCrisis(context.Background(), contracts.CrisisHigh)
	p.RecordEscalation(context.Background(), contracts.PriorityUrgent)
	p.RecordAuditWrite(context.Background(), time.Millisecond, true)

	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "triaged", cfg.ServiceName)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.Enabled)
	assert.False(t, cfg.Insecure)
}

func TestStartSpanOnDisabledProvider(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, span := p.StartSpan(context.Background(), "moderate")
	require.NotNil(t, span)
	span.End()
	assert.NotNil(t, ctx)
}
