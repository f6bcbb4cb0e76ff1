package signaling

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisRelay is a Relay over Redis Pub/Sub. Each instance is one party's client;
// there is no process-wide channel.
type RedisRelay struct {
	rdb redis.UniversalClient
	id  string
	log *slog.Logger

	mu  sync.Mutex
	sub *redisSubscription
}

type redisSubscription struct {
	callID string
	ps     *redis.PubSub
	done   chan struct{}
}

func NewRedisRelay(rdb redis.UniversalClient, log *slog.Logger) *RedisRelay {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &RedisRelay{rdb: rdb, id: id, log: log.With("relay_client", id)}
}

func (r *RedisRelay) ID() string { return r.id }

func (r *RedisRelay) Join(ctx context.Context, callID string, onMessage func(Message)) error {
	if callID == "" || onMessage == nil {
		return ErrInvalidMessage
	}
	_ = r.Leave()

	channel := ChannelName(callID)
	ps := r.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("join %s: %w", channel, err)
	}

	sub := &redisSubscription{callID: callID, ps: ps, done: make(chan struct{})}
	r.mu.Lock()
	r.sub = sub
	r.mu.Unlock()

	go r.readLoop(sub, onMessage)
	return nil
}

func (r *RedisRelay) readLoop(sub *redisSubscription, onMessage func(Message)) {
	msgs := sub.ps.Channel()
	for {
		select {
		case <-sub.done:
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			m, err := decode([]byte(raw.Payload))
			if err != nil {
				r.log.Warn("dropping malformed signal", "call_id", sub.callID, "err", err)
				continue
			}
			if m.Sender == r.id {
				continue
			}
			onMessage(m)
		}
	}
}

func (r *RedisRelay) Send(ctx context.Context, callID string, msg Message) error {
	r.mu.Lock()
	joined := r.sub != nil
	r.mu.Unlock()
	if !joined {
		r.log.Debug("signal dropped, relay not joined", "type", msg.Type)
		return nil
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	msg.Sender = r.id
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, ChannelName(callID), payload).Err(); err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	return nil
}

func (r *RedisRelay) Leave() error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	close(sub.done)
	return sub.ps.Close()
}
