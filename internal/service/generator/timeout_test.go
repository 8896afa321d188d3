package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwinyue/ml-testbench/internal/config"
)

func TestTimeoutHandler_Default(t *testing.T) {
	h, err := NewTimeoutHandler(config.TimeoutConfig{})
	require.NoError(t, err)
	assert.False(t, h.Configured())
	assert.Equal(t, 60, h.Timeout(1000, 256))
}

func TestTimeoutHandler_QuadraticFit(t *testing.T) {
	// y = 1 + 1e-4*x^2
	h, err := NewTimeoutHandler(config.TimeoutConfig{
		TTFT:  [][]float64{{0, 1}, {100, 2}, {200, 5}, {400, 17}},
		TPOT:  0.1,
		Queue: 2,
	})
	require.NoError(t, err)
	require.True(t, h.Configured())

	assert.InDelta(t, 10.0, h.TTFT(300), 1e-6)
	// 10 + 0.1*55 + 2 = 17.5
	assert.Equal(t, 18, h.Timeout(300, 55))
}

func TestTimeoutHandler_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		ttft [][]float64
	}{
		{"bad point", [][]float64{{1, 2, 3}, {2, 3}, {3, 4}}},
		{"too few points", [][]float64{{0, 1}, {100, 2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTimeoutHandler(config.TimeoutConfig{TTFT: tt.ttft})
			assert.Error(t, err)
		})
	}
}
