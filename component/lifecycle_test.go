package component

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateInitialized, "initialized"},
		{StateStarted, "started"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

type bareDiscoverable struct{}

func (bareDiscoverable) Meta() Metadata        { return Metadata{Name: "bare"} }
func (bareDiscoverable) Health() HealthStatus  { return HealthStatus{} }
func (bareDiscoverable) DataFlow() FlowMetrics { return FlowMetrics{} }

type fullComponent struct{ bareDiscoverable }

func (fullComponent) Initialize() error           { return nil }
func (fullComponent) Start(context.Context) error { return nil }
func (fullComponent) Stop(time.Duration) error    { return nil }

func TestAsLifecycleComponent(t *testing.T) {
	_, ok := AsLifecycleComponent(bareDiscoverable{})
	assert.False(t, ok)

	lc, ok := AsLifecycleComponent(fullComponent{})
	assert.True(t, ok)
	assert.NoError(t, lc.Initialize())
}
