package observability_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/keymaster/pkg/observability"
)

func TestNewMetrics(t *testing.T) {
	m, err := observability.NewMetrics()
	require.NoError(t, err)
	require.NotNil(t, m)

	// Recording against the no-op global provider must not panic.
	m.RecordValidate(context.Background(), "ok", 3*time.Millisecond)
	m.RecordDenial(context.Background(), "bad_secret")
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *observability.Metrics

	assert.NotPanics(t, func() {
		m.RecordValidate(context.Background(), "ok", time.Millisecond)
		m.RecordDenial(context.Background(), "rate_limited")
	})
}
