package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterSucceedsOnFreshRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
}

func TestRegisterIsNotDoubleSafe(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	err := Register(reg)
	assert.Error(t, err, "registering the same collectors twice on one registry should fail")
}
