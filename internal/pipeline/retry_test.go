package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"sunatflow/internal/document"
	"sunatflow/internal/queue"
)

func TestScheduleRetry(t *testing.T) {
	cases := []struct {
		name      string
		retries   int
		exhausted bool
		delay     time.Duration
		channel   string
	}{
		{name: "first failure", retries: 0, delay: 5 * time.Minute, channel: queue.ChannelRetryTier1},
		{name: "second failure", retries: 1, delay: 25 * time.Minute, channel: queue.ChannelRetryTier2},
		{name: "third failure", retries: 2, delay: 125 * time.Minute, channel: queue.ChannelRetryTier3},
		{name: "budget consumed", retries: 3, exhausted: true},
		{name: "far past the ceiling", retries: 10, exhausted: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision := scheduleRetry(&document.Document{Retries: tc.retries})

			assert.Equal(t, tc.exhausted, decision.Exhausted)
			if tc.exhausted {
				assert.Equal(t, tc.retries, decision.Retries)
				return
			}
			assert.Equal(t, tc.retries+1, decision.Retries)
			assert.Equal(t, tc.delay, decision.Delay)
			assert.Equal(t, tc.channel, decision.Channel)
		})
	}
}
