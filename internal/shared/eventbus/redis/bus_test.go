package redis

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-automation/internal/shared/model"
)

// 集成测试：需要可用的 Redis，不可用时整体跳过。
var testBus *Bus

func TestMain(m *testing.M) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	bus, err := NewBus(redisURL)
	if err != nil {
		testBus = nil
	} else {
		testBus = bus
	}

	code := m.Run()

	if testBus != nil {
		testBus.Close()
	}
	os.Exit(code)
}

// collector 按到达顺序收集带指定 run_id 标记的事件
//
// 消费组从 "0" 建立会重放 Stream 里的历史消息，run_id 过滤
// 让测试对共享 Redis 实例上的残留数据不敏感。
type collector struct {
	runID string

	mu     sync.Mutex
	events []*model.Event
}

func (c *collector) handle(_ context.Context, event *model.Event) error {
	if event.Data["run_id"] != c.runID {
		return nil
	}
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	return nil
}

func (c *collector) snapshot() []*model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Event, len(c.events))
	copy(out, c.events)
	return out
}

func awaitCount(t *testing.T, c *collector, want int) []*model.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
	got := c.snapshot()
	require.Len(t, got, want, "timed out waiting for events")
	return got
}

func TestPublishConsumeOrdering(t *testing.T) {
	if testBus == nil {
		t.Skip("Redis not available")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := uuid.NewString()
	rec := &collector{runID: runID}

	c := testBus.NewConsumer("it-order-"+runID[:8], []string{model.EventAgentHealthCheck.Topic()})
	c.RegisterHandler(model.EventAgentHealthCheck, rec.handle)
	go c.Run(ctx)
	defer c.Stop()

	const n = 20
	for i := 0; i < n; i++ {
		e := model.NewEvent(model.EventAgentHealthCheck, 42, map[string]any{
			"run_id": runID,
			"seq":    float64(i), // JSON 往返后数字是 float64
		})
		require.True(t, testBus.Publish(ctx, e))
	}

	got := awaitCount(t, rec, n)
	for i, e := range got[:n] {
		assert.Equal(t, float64(i), e.Data["seq"], "event %d delivered out of order", i)
		assert.Equal(t, int64(42), e.UserID)
	}
}

func TestFanOutAcrossConsumerGroups(t *testing.T) {
	if testBus == nil {
		t.Skip("Redis not available")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runID := uuid.NewString()
	topic := model.EventCellStatusUpdate.Topic()
	recA := &collector{runID: runID}
	recB := &collector{runID: runID}

	ca := testBus.NewConsumer("it-fan-a-"+runID[:8], []string{topic})
	ca.RegisterHandler(model.EventCellStatusUpdate, recA.handle)
	go ca.Run(ctx)
	defer ca.Stop()

	cb := testBus.NewConsumer("it-fan-b-"+runID[:8], []string{topic})
	cb.RegisterHandler(model.EventCellStatusUpdate, recB.handle)
	go cb.Run(ctx)
	defer cb.Stop()

	e := model.NewEvent(model.EventCellStatusUpdate, 1, map[string]any{"run_id": runID})
	require.True(t, testBus.Publish(ctx, e))

	gotA := awaitCount(t, recA, 1)
	gotB := awaitCount(t, recB, 1)
	assert.Equal(t, e.EventID, gotA[0].EventID)
	assert.Equal(t, e.EventID, gotB[0].EventID)
}
