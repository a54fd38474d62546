package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/events"
)

func propertyStore() *Store {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewStore(events.NewBus(logger), logger, Options{})
}

// However many agents race for one room, exactly one claim succeeds.
func TestProperty_SingleSuccessfulClaim(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one winner", prop.ForAll(
		func(customerID string, agents int) bool {
			store := propertyStore()
			ctx := context.Background()
			room, err := store.CreateRoom(ctx, auth.Identity{ParticipantID: customerID, Role: auth.RoleCustomer}, RoomMetadata{})
			if err != nil {
				return false
			}

			var mu sync.Mutex
			wins, conflicts := 0, 0
			var wg sync.WaitGroup
			for i := range agents {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := store.Claim(ctx, room.ID, auth.Identity{ParticipantID: fmt.Sprintf("agent-%d", i), Role: auth.RoleAgent})
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
					} else if errors.Is(err, ErrAlreadyClaimed) {
						conflicts++
					}
				}()
			}
			wg.Wait()
			return wins == 1 && conflicts == agents-1
		},
		gen.Identifier(),
		gen.IntRange(1, 24),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// History ids are 1..n with no gaps, whatever the interleaving of senders.
func TestProperty_HistoryIDsDense(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("ids are dense and increasing", prop.ForAll(
		func(customerCount, agentCount int) bool {
			store := propertyStore()
			ctx := context.Background()
			cust := auth.Identity{ParticipantID: "c", Role: auth.RoleCustomer}
			ag := auth.Identity{ParticipantID: "a", Role: auth.RoleAgent}
			room, err := store.CreateRoom(ctx, cust, RoomMetadata{})
			if err != nil {
				return false
			}
			if _, err := store.Claim(ctx, room.ID, ag); err != nil {
				return false
			}

			var wg sync.WaitGroup
			send := func(who auth.Identity, n int) {
				defer wg.Done()
				for range n {
					_, _ = store.Append(ctx, room.ID, who, "x")
				}
			}
			wg.Add(2)
			go send(cust, customerCount)
			go send(ag, agentCount)
			wg.Wait()

			seq, err := store.History(room.ID, 0)
			if err != nil {
				return false
			}
			msgs := slices.Collect(seq)
			if len(msgs) != customerCount+agentCount {
				return false
			}
			for i, m := range msgs {
				if m.ID != int64(i+1) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 40),
		gen.IntRange(0, 40),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

// Concurrent closes of one room report exactly one state change.
func TestProperty_IdempotentClose(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("one close changes state", prop.ForAll(
		func(closers int, claimFirst bool) bool {
			store := propertyStore()
			ctx := context.Background()

			closedEvents := 0
			events.Subscribe(store.bus, func(RoomClosed) { closedEvents++ })

			room, err := store.CreateRoom(ctx, auth.Identity{ParticipantID: "c", Role: auth.RoleCustomer}, RoomMetadata{})
			if err != nil {
				return false
			}
			if claimFirst {
				if _, err := store.Claim(ctx, room.ID, auth.Identity{ParticipantID: "a", Role: auth.RoleAgent}); err != nil {
					return false
				}
			}

			var mu sync.Mutex
			changes := 0
			var wg sync.WaitGroup
			for range closers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, changed, err := store.Close(ctx, room.ID, "c")
					if err == nil && changed {
						mu.Lock()
						changes++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			return changes == 1 && closedEvents == 1
		},
		gen.IntRange(1, 16),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
