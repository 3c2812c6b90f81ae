package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/golang/snappy"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
	ctymsgpack "github.com/zclconf/go-cty/cty/msgpack"
)

// Frame layout:
//
//	address 0x00 | flags | uvarint episode | uvarint seq | payload
//
// The payload is the cty msgpack encoding of the value, snappy-compressed
// when flagCompressed is set. The address prefix doubles as the pub/sub
// topic.
const (
	topicSep       = 0x00
	flagCompressed = 1 << 0
)

// ErrMalformedFrame is returned when a frame cannot be split.
var ErrMalformedFrame = errors.New("malformed frame")

// Codec turns messages into frames.
type Codec struct {
	Compress bool
}

// Topic returns the frame prefix that identifies addr.
func Topic(addr string) []byte {
	return append([]byte(addr), topicSep)
}

// Encode serializes msg for addr. The value must conform to ty.
func (c Codec) Encode(addr string, ty cty.Type, msg node.Message) ([]byte, error) {
	payload, err := ctymsgpack.Marshal(msg.Value, ty)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", addr, err)
	}

	var flags byte
	if c.Compress {
		flags |= flagCompressed
		payload = snappy.Encode(nil, payload)
	}

	buf := make([]byte, 0, len(addr)+2+2*binary.MaxVarintLen64+len(payload))
	buf = append(buf, Topic(addr)...)
	buf = append(buf, flags)
	buf = binary.AppendUvarint(buf, msg.Episode)
	buf = binary.AppendUvarint(buf, msg.Seq)
	return append(buf, payload...), nil
}

// SplitFrame returns the address of a frame and the rest of it.
func SplitFrame(frame []byte) (string, []byte, error) {
	i := bytes.IndexByte(frame, topicSep)
	if i <= 0 {
		return "", nil, ErrMalformedFrame
	}
	return string(frame[:i]), frame[i+1:], nil
}

// Decode parses a frame whose value has type ty.
func Decode(frame []byte, ty cty.Type) (string, node.Message, error) {
	addr, rest, err := SplitFrame(frame)
	if err != nil {
		return "", node.Message{}, err
	}
	if len(rest) == 0 {
		return "", node.Message{}, fmt.Errorf("%w: %s: no header", ErrMalformedFrame, addr)
	}
	flags, rest := rest[0], rest[1:]

	episode, n := binary.Uvarint(rest)
	if n <= 0 {
		return "", node.Message{}, fmt.Errorf("%w: %s: bad episode", ErrMalformedFrame, addr)
	}
	rest = rest[n:]
	seq, n := binary.Uvarint(rest)
	if n <= 0 {
		return "", node.Message{}, fmt.Errorf("%w: %s: bad sequence number", ErrMalformedFrame, addr)
	}
	payload := rest[n:]

	if flags&flagCompressed != 0 {
		if payload, err = snappy.Decode(nil, payload); err != nil {
			return "", node.Message{}, fmt.Errorf("failed to decompress %s: %w", addr, err)
		}
	}
	val, err := ctymsgpack.Unmarshal(payload, ty)
	if err != nil {
		return "", node.Message{}, fmt.Errorf("decode %s: %w", addr, err)
	}
	return addr, node.Message{Episode: episode, Seq: seq, Value: val}, nil
}

// stamp orders messages of one address.
type stamp struct {
	episode, seq uint64
}

func stampOf(msg node.Message) stamp { return stamp{msg.Episode, msg.Seq} }

func (s stamp) after(o stamp) bool {
	if s.episode != o.episode {
		return s.episode > o.episode
	}
	return s.seq > o.seq
}

// Dedup drops replays of latched values that a subscriber has already seen.
type Dedup struct {
	seen map[string]stamp
}

// NewDedup creates an empty filter.
func NewDedup() *Dedup {
	return &Dedup{seen: make(map[string]stamp)}
}

// Fresh reports whether msg on addr is newer than anything accepted before,
// and records it. Non-latched addresses are always fresh.
func (d *Dedup) Fresh(addr string, msg node.Message) bool {
	if !IsLatched(addr) {
		return true
	}
	st := stampOf(msg)
	if last, ok := d.seen[addr]; ok && !st.after(last) {
		return false
	}
	d.seen[addr] = st
	return true
}
