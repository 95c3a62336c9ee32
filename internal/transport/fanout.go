package transport

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Fanout distributes frames of a room across relay instances.
type Fanout interface {
	// Publish sends a frame to every subscriber of room, the publishing
	// instance included.
	Publish(ctx context.Context, room string, frame []byte) error

	// Subscribe delivers the room's frames to fn until the returned
	// cancel function is called.
	Subscribe(ctx context.Context, room string, fn func(frame []byte)) (cancel func(), err error)
}

// LocalFanout is a single-instance Fanout.
type LocalFanout struct {
	mu   sync.Mutex
	subs map[string][]*localSub
}

type localSub struct {
	fn func([]byte)
}

// NewLocalFanout creates an in-process fanout.
func NewLocalFanout() *LocalFanout {
	return &LocalFanout{subs: make(map[string][]*localSub)}
}

// Publish implements Fanout.
func (f *LocalFanout) Publish(_ context.Context, room string, frame []byte) error {
	f.mu.Lock()
	subs := slices.Clone(f.subs[room])
	f.mu.Unlock()
	for _, s := range subs {
		s.fn(frame)
	}
	return nil
}

// Subscribe implements Fanout.
func (f *LocalFanout) Subscribe(_ context.Context, room string, fn func([]byte)) (func(), error) {
	s := &localSub{fn: fn}
	f.mu.Lock()
	f.subs[room] = append(f.subs[room], s)
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.subs[room] = slices.DeleteFunc(f.subs[room], func(x *localSub) bool { return x == s })
		if len(f.subs[room]) == 0 {
			delete(f.subs, room)
		}
	}, nil
}

// RedisFanout publishes frames on one redis channel per room so several
// relay instances can serve the same room.
type RedisFanout struct {
	rdb    *redis.Client
	prefix string
	logger *slog.Logger
}

// NewRedisFanout creates a fanout over rdb. Channel names are
// prefix+room.
func NewRedisFanout(rdb *redis.Client, prefix string, logger *slog.Logger) *RedisFanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisFanout{rdb: rdb, prefix: prefix, logger: logger}
}

func (f *RedisFanout) channel(room string) string {
	return f.prefix + room
}

// Publish implements Fanout.
func (f *RedisFanout) Publish(ctx context.Context, room string, frame []byte) error {
	if err := f.rdb.Publish(ctx, f.channel(room), frame).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", f.channel(room), err)
	}
	return nil
}

// Subscribe implements Fanout. It returns once the subscription is
// confirmed by the server.
func (f *RedisFanout) Subscribe(ctx context.Context, room string, fn func([]byte)) (func(), error) {
	pubsub := f.rdb.Subscribe(ctx, f.channel(room))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", f.channel(room), err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			fn([]byte(msg.Payload))
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			f.logger.Warn("closing redis subscription failed",
				"channel", f.channel(room),
				"error", err)
		}
		<-done
	}, nil
}
