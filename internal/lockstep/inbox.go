package lockstep

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

type slot struct {
	key     string
	episode uint64
	seq     uint64
}

// inbox is the mailbox of one participant. Broker callbacks put messages
// without ever blocking, and the participant's own goroutine waits on it.
type inbox struct {
	mu      sync.Mutex
	cond    *sync.Cond
	msgs    map[slot]cty.Value
	resetTo uint64
	counter uint64
	fault   error
	stopped bool
}

func newInbox() *inbox {
	b := &inbox{msgs: make(map[slot]cty.Value)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// put stores msg under key. Messages of episodes that are already over are
// dropped.
func (b *inbox) put(key string, msg node.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Episode < b.counter {
		return
	}
	b.msgs[slot{key, msg.Episode, msg.Seq}] = msg.Value
	b.cond.Broadcast()
}

// deliver returns a broker callback storing under key.
func (b *inbox) deliver(key string) func(node.Message) {
	return func(msg node.Message) { b.put(key, msg) }
}

// requestReset records a start_reset for episode.
func (b *inbox) requestReset(msg node.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg.Episode > b.resetTo {
		b.resetTo = msg.Episode
		b.cond.Broadcast()
	}
}

// fail makes every current and future wait return err.
func (b *inbox) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fault == nil {
		b.fault = err
	}
	b.cond.Broadcast()
}

func (b *inbox) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	b.cond.Broadcast()
}

// begin starts episode and drops every message of the previous ones.
func (b *inbox) begin(episode uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counter = episode
	for s := range b.msgs {
		if s.episode < episode {
			delete(b.msgs, s)
		}
	}
}

// errInterrupted is returned by waits cut short by a newer reset.
type errInterrupted struct{ episode uint64 }

func (e errInterrupted) Error() string {
	return fmt.Sprintf("interrupted by the reset of episode %d", e.episode)
}

// await blocks until ready returns true. It is called with the lock held.
// A reset requested for an episode after current interrupts the wait.
func (b *inbox) await(ctx context.Context, current uint64, ready func() bool) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	for {
		switch {
		case b.fault != nil:
			return b.fault
		case b.stopped:
			return ErrStopped
		case ctx.Err() != nil:
			return ctx.Err()
		case b.resetTo > current:
			return errInterrupted{b.resetTo}
		case ready():
			return nil
		}
		b.cond.Wait()
	}
}

// take waits for the message of key at (episode, seq) and removes it.
func (b *inbox) take(ctx context.Context, key string, episode, seq uint64) (cty.Value, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := slot{key, episode, seq}
	err := b.await(ctx, episode, func() bool {
		_, ok := b.msgs[s]
		return ok
	})
	if err != nil {
		return cty.NilVal, err
	}
	v := b.msgs[s]
	delete(b.msgs, s)
	return v, nil
}

// waitReset blocks until a reset for an episode after current is requested
// and returns that episode.
func (b *inbox) waitReset(ctx context.Context, current uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.await(ctx, current, func() bool { return false })
	var ie errInterrupted
	if errors.As(err, &ie) {
		return ie.episode, nil
	}
	return 0, err
}
