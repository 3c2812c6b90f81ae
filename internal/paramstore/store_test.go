package paramstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/metrics"
)

type params struct {
	Kind string  `json:"kind"`
	Rate float64 `json:"rate"`
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	tree := map[string]any{
		"A": params{Kind: "relay", Rate: 10},
		"B": params{Kind: "gain", Rate: 5},
	}
	require.NoError(t, Upload(ctx, s, "exp", tree))

	var got params
	require.NoError(t, Decode(ctx, s, Key("exp", "B"), &got))
	assert.Equal(t, params{Kind: "gain", Rate: 5}, got)

	_, err := s.Get(ctx, Key("exp", "C"))
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "exp2/A", []byte(`{}`)))
	require.NoError(t, s.Delete(ctx, "exp"))
	_, err = s.Get(ctx, Key("exp", "A"))
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "exp2/A")
	assert.NoError(t, err, "only keys below the deleted one go away")
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	exerciseStore(t, m)
	assert.Equal(t, []string{"exp2/A"}, m.Keys())
}

func TestRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	r, err := NewRedis(context.Background(), url, "lockstep-test-"+uuid.NewString())
	require.NoError(t, err)
	defer r.Close()
	defer r.Delete(context.Background(), "exp2")
	exerciseStore(t, r)
}

func TestNewRedis_Invalid(t *testing.T) {
	_, err := NewRedis(context.Background(), "", "")
	assert.Error(t, err)
	_, err = NewRedis(context.Background(), "mysql://nope", "")
	assert.ErrorContains(t, err, "failed to parse redis url")
}

func TestUpload_Unencodable(t *testing.T) {
	err := Upload(context.Background(), NewMemory(), "exp", map[string]any{"A": make(chan int)})
	assert.ErrorContains(t, err, `failed to encode parameters of "A"`)
}

func TestGetWithBlocking(t *testing.T) {
	t.Run("value uploaded later", func(t *testing.T) {
		m := NewMemory()
		reg := metrics.NewRegistry()
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = m.Set(context.Background(), "exp/A", []byte(`{"rate":1}`))
		}()

		raw, err := GetWithBlocking(context.Background(), m, "exp/A", BlockingOptions{
			Timeout: 2 * time.Second, Interval: time.Millisecond, Metrics: reg,
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"rate":1}`, string(raw))
		assert.Greater(t, testutil.ToFloat64(reg.ParamPollsTotal), 1.0)
	})

	t.Run("timeout names the address", func(t *testing.T) {
		_, err := GetWithBlocking(context.Background(), NewMemory(), "exp/missing", BlockingOptions{
			Timeout: 20 * time.Millisecond, Interval: time.Millisecond,
		})
		assert.ErrorIs(t, err, ErrBootstrap)
		assert.ErrorContains(t, err, "exp/missing")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := GetWithBlocking(ctx, NewMemory(), "exp/missing", BlockingOptions{})
		assert.ErrorIs(t, err, ErrBootstrap)
	})

	t.Run("store failure is not retried", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := GetWithBlocking(context.Background(), failing{boom}, "exp/A", BlockingOptions{Timeout: time.Second})
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, ErrBootstrap)
	})
}

type failing struct{ err error }

func (f failing) Set(context.Context, string, []byte) error   { return f.err }
func (f failing) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f failing) Delete(context.Context, string) error        { return f.err }
func (f failing) Close() error                                { return nil }
