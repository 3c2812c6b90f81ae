package socketio

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

func startRelay(t *testing.T) string {
	t.Helper()
	r := NewRelay(context.Background(), RelayOptions{Metrics: metrics.NewRegistry()})
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(func() {
		r.Close()
		srv.Close()
	})
	return srv.URL + RelayPath
}

func dialRelay(t *testing.T, url string) *Transport {
	t.Helper()
	tr, err := Dial(context.Background(), Options{URL: url, Namespace: "/", Compress: true, ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestRelay_PublishSubscribe(t *testing.T) {
	url := startRelay(t)
	pub := dialRelay(t, url)
	sub := dialRelay(t, url)
	ctx := context.Background()

	var c collector
	s, err := sub.Subscribe(ctx, "ns/A/outputs/out", cty.Number, c.handle)
	require.NoError(t, err)

	// The subscribe may reach the relay after the first publishes.
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, "ns/A/outputs/out", cty.Number, node.Message{Seq: 1, Value: cty.NumberIntVal(7)})
		return c.len() > 0
	}, 5*time.Second, 20*time.Millisecond)

	c.mu.Lock()
	got := c.msgs[0]
	c.mu.Unlock()
	assert.True(t, got.Value.Equals(cty.NumberIntVal(7)).True(), "got %#v", got.Value)
	require.NoError(t, s.Unsubscribe())
}

func TestRelay_ReplaysLatchedToLateJoiner(t *testing.T) {
	url := startRelay(t)
	pub := dialRelay(t, url)
	ctx := context.Background()

	var early collector
	_, err := pub.Subscribe(ctx, "ns/A/initialized", cty.Number, early.handle)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, "ns/A/initialized", cty.Number, node.Message{Seq: 1, Value: cty.Zero}))
	// Once the publisher hears its own message, the relay holds the value.
	require.Eventually(t, func() bool { return early.len() == 1 }, 5*time.Second, 10*time.Millisecond)

	late := dialRelay(t, url)
	var c collector
	_, err = late.Subscribe(ctx, "ns/A/initialized", cty.Number, c.handle)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.len() == 1 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, c.len())
	assert.Equal(t, 1, early.len())
}
