package lockstep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignal(t *testing.T) {
	s := NewSignal()
	assert.False(t, s.IsSet())

	ok, err := s.WaitFor(context.Background(), 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	go s.Set()
	require.NoError(t, s.Wait(context.Background()))
	assert.True(t, s.IsSet())
	s.Set()

	s.Clear()
	assert.False(t, s.IsSet())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.Canceled)
	_, err = s.WaitFor(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	s.Set()
	ok, err = s.WaitFor(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
