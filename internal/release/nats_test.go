package release

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewNATSBackendDisabledReturnsNil(t *testing.T) {
	b, err := NewNATSBackend(EnvNATSOptions())
	require.NoError(t, err)
	require.Nil(t, b)
}

func TestEmbeddedNATSBackendPublishesAndConsumes(t *testing.T) {
	opts := EnvNATSOptions()
	opts.Enabled = true
	b, err := NewNATSBackend(opts)
	require.NoError(t, err)
	require.NotNil(t, b)
	defer b.Close()

	var mu sync.Mutex
	var received []Release

	sub, err := b.Subscribe("nightly", func(r Release) {
		mu.Lock()
		received = append(received, r)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	instant := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.Publish(context.Background(), Release{Workflow: "nightly", Instant: instant, Type: Poke}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 3*time.Second, 20*time.Millisecond)
}
