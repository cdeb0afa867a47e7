package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/omni/beacon-gateway/internal/nodes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct{}

func (fakeSender) Send([]byte) error { return nil }

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New(Config{Schedule: "not a cron expr"})
	assert.Error(t, err)
}

func TestNewDefaultsSchedule(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, s.nodeMaxAge)
}

func TestTickReapsStaleNodes(t *testing.T) {
	registry := nodes.NewRegistry()
	nodeID := registry.Register(nodes.Registration{DeviceID: "d1", Platform: "linux"}, fakeSender{})

	s, err := New(Config{Registry: registry, NodeMaxAge: time.Millisecond})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	s.tick()

	_, ok := registry.Get(nodeID)
	assert.False(t, ok)
}

func TestTickKeepsFreshNodes(t *testing.T) {
	registry := nodes.NewRegistry()
	nodeID := registry.Register(nodes.Registration{DeviceID: "d1", Platform: "linux"}, fakeSender{})

	s, err := New(Config{Registry: registry, NodeMaxAge: time.Hour})
	require.NoError(t, err)
	s.tick()

	_, ok := registry.Get(nodeID)
	assert.True(t, ok)
}

func TestStartStop(t *testing.T) {
	registry := nodes.NewRegistry()
	s, err := New(Config{Registry: registry, Schedule: "@every 10ms"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
