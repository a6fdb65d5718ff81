package queue_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"sunatflow/internal/queue"
	id "sunatflow/pkg/domain"
)

type MemorySuite struct {
	suite.Suite
}

func TestMemorySuite(t *testing.T) {
	suite.Run(t, new(MemorySuite))
}

func (s *MemorySuite) TestPublishConsume() {
	broker := queue.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := queue.Message{DocumentID: id.NewDocumentID(), RetryCount: 1}
	s.Require().NoError(broker.Publish(ctx, queue.ChannelSendDocument, msg))

	received := make(chan queue.Message, 1)
	go broker.Consume(ctx, queue.ChannelSendDocument, func(ctx context.Context, m queue.Message) queue.Disposition {
		received <- m
		return queue.Ack
	})

	select {
	case got := <-received:
		s.Equal(msg, got)
	case <-ctx.Done():
		s.Fail("message never arrived")
	}
}

func (s *MemorySuite) TestNackRedelivers() {
	broker := queue.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Require().NoError(broker.Publish(ctx, queue.ChannelSendDocument, queue.Message{DocumentID: id.NewDocumentID()}))

	var attempts atomic.Int32
	done := make(chan struct{})
	go broker.Consume(ctx, queue.ChannelSendDocument, func(ctx context.Context, m queue.Message) queue.Disposition {
		if attempts.Add(1) == 1 {
			return queue.Nack
		}
		close(done)
		return queue.Ack
	})

	select {
	case <-done:
		s.Equal(int32(2), attempts.Load())
	case <-ctx.Done():
		s.Fail("message was not redelivered")
	}
}

func (s *MemorySuite) TestSchedule() {
	broker := queue.NewMemory()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	s.Require().NoError(broker.Schedule(ctx, queue.ChannelRetryTier1, queue.Message{DocumentID: id.NewDocumentID()}, start.Add(50*time.Millisecond)))

	received := make(chan struct{})
	go broker.Consume(ctx, queue.ChannelRetryTier1, func(ctx context.Context, m queue.Message) queue.Disposition {
		close(received)
		return queue.Ack
	})

	select {
	case <-received:
		s.GreaterOrEqual(time.Since(start), 50*time.Millisecond)
	case <-ctx.Done():
		s.Fail("scheduled message never arrived")
	}
}

func (s *MemorySuite) TestRetryChannel() {
	s.Equal(queue.ChannelRetryTier1, queue.RetryChannel(1))
	s.Equal(queue.ChannelRetryTier2, queue.RetryChannel(2))
	s.Equal(queue.ChannelRetryTier3, queue.RetryChannel(3))
}
