package events

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

type roomOpened struct{ ID string }
type roomShut struct{ ID string }

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublish_DeliversToMatchingTypeOnly(t *testing.T) {
	bus := newTestBus()

	var opened, shut []string
	Subscribe(bus, func(e roomOpened) { opened = append(opened, e.ID) })
	Subscribe(bus, func(e roomShut) { shut = append(shut, e.ID) })

	Publish(bus, roomOpened{ID: "a"})
	Publish(bus, roomShut{ID: "b"})
	Publish(bus, roomOpened{ID: "c"})

	assert.Equal(t, []string{"a", "c"}, opened)
	assert.Equal(t, []string{"b"}, shut)
}

func TestPublish_SubscriptionOrder(t *testing.T) {
	bus := newTestBus()

	var order []int
	for i := range 5 {
		Subscribe(bus, func(roomOpened) { order = append(order, i) })
	}
	Publish(bus, roomOpened{})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPublish_PanickingSubscriberIsIsolated(t *testing.T) {
	bus := newTestBus()

	called := false
	Subscribe(bus, func(roomOpened) { panic("broken subscriber") })
	Subscribe(bus, func(roomOpened) { called = true })

	assert.NotPanics(t, func() { Publish(bus, roomOpened{ID: "x"}) })
	assert.True(t, called)
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	count := 0
	unsubscribe := Subscribe(bus, func(roomOpened) { count++ })
	assert.Equal(t, 1, SubscriberCount[roomOpened](bus))

	Publish(bus, roomOpened{})
	unsubscribe()
	unsubscribe()
	Publish(bus, roomOpened{})

	assert.Equal(t, 1, count)
	assert.Equal(t, 0, SubscriberCount[roomOpened](bus))
}

func TestPublish_NoSubscribersAndNilBus(t *testing.T) {
	assert.NotPanics(t, func() {
		Publish(newTestBus(), roomShut{})
		Publish[roomShut](nil, roomShut{})
	})
}

func TestSubscribeDuringPublish(t *testing.T) {
	bus := newTestBus()

	late := 0
	Subscribe(bus, func(roomOpened) {
		Subscribe(bus, func(roomOpened) { late++ })
	})

	Publish(bus, roomOpened{})
	assert.Equal(t, 0, late, "subscriber added during publish sees only later events")

	Publish(bus, roomOpened{})
	assert.Equal(t, 1, late)
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	total := 0
	Subscribe(bus, func(roomOpened) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				Publish(bus, roomOpened{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, total)
}

// Every subscriber receives every published event exactly once.
func TestProperty_EachSubscriberSeesEveryEvent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("n subscribers x m events", prop.ForAll(
		func(n, m int) bool {
			bus := newTestBus()
			counts := make([]int, n)
			for i := range n {
				Subscribe(bus, func(roomOpened) { counts[i]++ })
			}
			for range m {
				Publish(bus, roomOpened{})
			}
			for _, c := range counts {
				if c != m {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 10),
		gen.IntRange(0, 50),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
