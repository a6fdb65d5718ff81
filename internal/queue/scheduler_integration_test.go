//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sunatflow/internal/platform/config"
	platformredis "sunatflow/internal/platform/redis"
	"sunatflow/internal/queue"
	id "sunatflow/pkg/domain"
	"sunatflow/pkg/testutil/containers"
)

func TestSchedulerDelaysDelivery(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	client, err := platformredis.New(config.Redis{URL: rc.Addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	broker := queue.NewMemory()
	scheduler := queue.NewScheduler(client, broker, queue.WithPollInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go scheduler.Run(ctx)

	delivered := make(chan time.Time, 1)
	go broker.Consume(ctx, queue.ChannelRetryTier1, func(context.Context, queue.Message) queue.Disposition {
		delivered <- time.Now()
		return queue.Ack
	})

	msg := queue.Message{DocumentID: id.NewDocumentID(), RetryCount: 1}
	scheduledAt := time.Now()
	due := scheduledAt.Add(400 * time.Millisecond)
	require.NoError(t, scheduler.Schedule(ctx, queue.ChannelRetryTier1, msg, due))

	select {
	case at := <-delivered:
		require.GreaterOrEqual(t, at.Sub(scheduledAt), 350*time.Millisecond,
			"message must not be delivered before its due time")
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled message never delivered")
	}
}

func TestSchedulerDeliversImmediatelyWhenDue(t *testing.T) {
	rc := containers.NewRedisContainer(t)
	client, err := platformredis.New(config.Redis{URL: rc.Addr, PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	broker := queue.NewMemory()
	scheduler := queue.NewScheduler(client, broker, queue.WithPollInterval(50*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go scheduler.Run(ctx)

	delivered := make(chan queue.Message, 1)
	go broker.Consume(ctx, queue.ChannelCheckTicket, func(_ context.Context, msg queue.Message) queue.Disposition {
		delivered <- msg
		return queue.Ack
	})

	msg := queue.Message{DocumentID: id.NewDocumentID()}
	require.NoError(t, scheduler.Schedule(ctx, queue.ChannelCheckTicket, msg, time.Now().Add(-time.Second)))

	select {
	case got := <-delivered:
		require.Equal(t, msg.DocumentID, got.DocumentID)
	case <-time.After(5 * time.Second):
		t.Fatal("past-due message never delivered")
	}
}
