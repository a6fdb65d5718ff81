package queue

import (
	"context"
	"sync"
	"time"
)

const memoryBufferSize = 256

// Memory is a single-process broker backed by Go channels. Tests and
// development only; redelivery on Nack is immediate.
type Memory struct {
	mu       sync.Mutex
	channels map[string]chan Message
}

func NewMemory() *Memory {
	return &Memory{channels: make(map[string]chan Message)}
}

func (m *Memory) channel(name string) chan Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.channels[name]
	if !ok {
		ch = make(chan Message, memoryBufferSize)
		m.channels[name] = ch
	}
	return ch
}

func (m *Memory) Publish(ctx context.Context, channel string, msg Message) error {
	select {
	case m.channel(channel) <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, channel string, handler Handler) error {
	ch := m.channel(channel)
	for {
		select {
		case msg := <-ch:
			if handler(ctx, msg) == Nack {
				select {
				case ch <- msg:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Schedule delivers the message with an in-process timer. Pending timers are
// dropped on process exit, which is acceptable for the development broker.
func (m *Memory) Schedule(ctx context.Context, channel string, msg Message, at time.Time) error {
	delay := time.Until(at)
	if delay <= 0 {
		return m.Publish(ctx, channel, msg)
	}
	time.AfterFunc(delay, func() {
		m.Publish(context.Background(), channel, msg)
	})
	return nil
}
