package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/servicehub/taskflow-engine/types"
)

// collector records events it receives.
type collector struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (c *collector) Handle(ctx context.Context, event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func taskEvent(taskID uint64) Event {
	return Event{
		Type:   TaskCompleted,
		Entity: types.TicketRef(1),
		Data:   map[string]interface{}{"task_id": taskID},
	}
}

func TestBusPublish(t *testing.T) {
	t.Run("DeliversToSubscriber", func(t *testing.T) {
		bus := NewBus()
		defer bus.Stop()

		c := &collector{}
		bus.Subscribe(TaskCompleted, c)

		assert.NoError(t, bus.Publish(context.Background(), taskEvent(1)))
		assert.Eventually(t, func() bool { return c.count() == 1 }, time.Second, 10*time.Millisecond)
	})

	t.Run("NoHandler", func(t *testing.T) {
		bus := NewBus()
		defer bus.Stop()
		assert.ErrorIs(t, bus.Publish(context.Background(), taskEvent(1)), ErrNoHandler)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		bus := NewBus()
		defer bus.Stop()
		bus.Subscribe(TaskCompleted, &collector{})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Error(t, bus.Publish(ctx, taskEvent(1)))
	})

	t.Run("AfterStop", func(t *testing.T) {
		bus := NewBus()
		bus.Subscribe(TaskCompleted, &collector{})
		bus.Stop()
		assert.ErrorIs(t, bus.Publish(context.Background(), taskEvent(1)), ErrBusClosed)
	})
}

func TestBusPublishSync(t *testing.T) {
	t.Run("CollectsHandlerErrors", func(t *testing.T) {
		bus := NewBus()
		defer bus.Stop()

		ok := &collector{}
		failing := &collector{err: errors.New("smtp unreachable")}
		bus.Subscribe(DocumentApproved, ok)
		bus.Subscribe(DocumentApproved, failing)

		errs := bus.PublishSync(context.Background(), Event{Type: DocumentApproved, Entity: types.ReceiptRef(2)})
		assert.Len(t, errs, 1)
		assert.Equal(t, 1, ok.count())
	})

	t.Run("NoHandler", func(t *testing.T) {
		bus := NewBus()
		defer bus.Stop()
		errs := bus.PublishSync(context.Background(), taskEvent(1))
		assert.Equal(t, []error{ErrNoHandler}, errs)
	})
}

func TestBusSubscribeFunc(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	var got Event
	done := make(chan struct{})
	bus.SubscribeFunc(TaskBlocked, func(ctx context.Context, event Event) error {
		got = event
		close(done)
		return nil
	})

	event := Event{Type: TaskBlocked, Entity: types.TicketRef(3), Data: map[string]interface{}{"reason": "parts"}}
	assert.NoError(t, bus.Publish(context.Background(), event))

	select {
	case <-done:
		assert.Equal(t, event, got)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestBusErrorHandler(t *testing.T) {
	var mu sync.Mutex
	var handled []error
	bus := NewBus(WithErrorHandler(func(event Event, err error) {
		mu.Lock()
		defer mu.Unlock()
		handled = append(handled, err)
	}))
	defer bus.Stop()

	bus.Subscribe(TaskCompleted, &collector{err: errors.New("boom")})
	assert.NoError(t, bus.Publish(context.Background(), taskEvent(1)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestBusBufferSize(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	defer bus.Stop()

	blocker := make(chan struct{})
	bus.SubscribeFunc(TaskStarted, func(ctx context.Context, event Event) error {
		<-blocker
		return nil
	})
	defer close(blocker)

	// Fill the processor and the one-slot buffer, then overflow.
	sawFull := false
	for i := 0; i < 10; i++ {
		if errors.Is(bus.Publish(context.Background(), Event{Type: TaskStarted, Entity: types.TicketRef(1)}), ErrChannelFull) {
			sawFull = true
			break
		}
	}
	assert.True(t, sawFull)
}

func TestBusStopDuringPublish(t *testing.T) {
	bus := NewBus(WithBufferSize(1))
	bus.Subscribe(TaskStarted, &collector{})

	// Publishers hammer the bus while Stop closes it. Publishes racing the
	// shutdown must fail with ErrBusClosed, never send on a closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := bus.Publish(context.Background(), Event{Type: TaskStarted, Entity: types.TicketRef(1)})
				if errors.Is(err, ErrBusClosed) {
					return
				}
			}
		}()
	}

	bus.Stop()
	wg.Wait()

	assert.ErrorIs(t, bus.Publish(context.Background(), taskEvent(1)), ErrBusClosed)
}

func TestBusHasSubscribers(t *testing.T) {
	bus := NewBus()
	defer bus.Stop()

	assert.False(t, bus.HasSubscribers(TaskSkipped))
	bus.Subscribe(TaskSkipped, &collector{})
	assert.True(t, bus.HasSubscribers(TaskSkipped))
}
