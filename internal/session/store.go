// Package session owns chat rooms: the waiting queue, the active map, each
// room's state machine and its message log.
//
// Locking: every Room has its own mutex which serializes Claim, Append,
// Transfer and Close on that room. The Store's RWMutex guards the indices.
// When both are needed the room lock is taken first; no code path takes a
// room lock while holding the store lock, and no operation waits on a room
// other than its own.
package session

import (
	"container/list"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/real-rm/supportchat/internal/auth"
	"github.com/real-rm/supportchat/internal/constants"
	"github.com/real-rm/supportchat/internal/events"
)

// Options tunes a Store. Zero values select the defaults.
type Options struct {
	// CloseGracePeriod is how long a closed room stays readable before Purge evicts it
	CloseGracePeriod time.Duration
	// CleanupInterval is the period of the background purge started by StartCleanup
	CleanupInterval time.Duration
	// Now replaces time.Now in tests
	Now func() time.Time
}

// Store is the in-memory Room Store
type Store struct {
	mu         sync.RWMutex
	rooms      map[string]*Room               // every room until purged
	waiting    *list.List                     // *Room in arrival order
	waitingIdx map[string]*list.Element       // roomID -> element of waiting
	active     map[string]*Room               // roomID -> claimed room
	byCustomer map[string]string              // customerID -> open roomID
	byAgent    map[string]map[string]struct{} // agentID -> active roomIDs
	closedAt   map[string]time.Time           // roomID -> close time, for Purge

	bus    *events.Bus
	logger *slog.Logger
	now    func() time.Time

	gracePeriod     time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	cleanupWg       sync.WaitGroup
	cleanupOnce     sync.Once
}

// NewStore creates an empty store that publishes domain events on bus
func NewStore(bus *events.Bus, logger *slog.Logger, opts Options) *Store {
	if opts.CloseGracePeriod <= 0 {
		opts.CloseGracePeriod = constants.DefaultCloseGracePeriod
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = constants.DefaultCleanupInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		rooms:           make(map[string]*Room),
		waiting:         list.New(),
		waitingIdx:      make(map[string]*list.Element),
		active:          make(map[string]*Room),
		byCustomer:      make(map[string]string),
		byAgent:         make(map[string]map[string]struct{}),
		closedAt:        make(map[string]time.Time),
		bus:             bus,
		logger:          logger.With("component", "session"),
		now:             opts.Now,
		gracePeriod:     opts.CloseGracePeriod,
		cleanupInterval: opts.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
}

// CreateRoom queues a new room for customer. A customer has at most one open
// room; a second request fails with ErrDuplicateActiveSession and the caller
// can fetch the existing room with OpenRoomFor.
func (s *Store) CreateRoom(ctx context.Context, customer auth.Identity, meta RoomMetadata) (RoomView, error) {
	if err := ctx.Err(); err != nil {
		return RoomView{}, err
	}
	if customer.ParticipantID == "" {
		return RoomView{}, fmt.Errorf("%w: empty customer id", ErrNotParticipant)
	}

	now := s.now()
	room := &Room{
		id:             uuid.NewString(),
		customer:       customer,
		department:     meta.Department,
		organizationID: meta.OrganizationID,
		state:          StateWaiting,
		createdAt:      now,
		lastActivityAt: now,
	}
	if room.organizationID == "" {
		room.organizationID = customer.OrganizationID
	}

	// the room is not reachable yet; locking it first keeps the room -> store order
	room.mu.Lock()
	defer room.mu.Unlock()

	s.mu.Lock()
	if existing, ok := s.byCustomer[customer.ParticipantID]; ok {
		s.mu.Unlock()
		return RoomView{}, fmt.Errorf("%w: room %s", ErrDuplicateActiveSession, existing)
	}
	s.rooms[room.id] = room
	s.waitingIdx[room.id] = s.waiting.PushBack(room)
	s.byCustomer[customer.ParticipantID] = room.id
	s.mu.Unlock()

	view := room.view()
	s.logger.Info("Room created", "room_id", room.id, "customer_id", customer.ParticipantID, "department", meta.Department)
	events.Publish(s.bus, RoomCreated{Room: view})
	return view, nil
}

// Claim assigns a waiting room to agent. Exactly one of any number of
// concurrent claims succeeds; the others get ErrAlreadyClaimed. Closed and
// unknown rooms yield ErrRoomNotFound.
func (s *Store) Claim(ctx context.Context, roomID string, agent auth.Identity) (RoomView, error) {
	if err := ctx.Err(); err != nil {
		return RoomView{}, err
	}
	if agent.ParticipantID == "" {
		return RoomView{}, fmt.Errorf("%w: empty agent id", ErrNotParticipant)
	}

	room, err := s.lookup(roomID)
	if err != nil {
		return RoomView{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	switch room.state {
	case StateActive:
		return room.view(), fmt.Errorf("%w: room %s is served by %s", ErrAlreadyClaimed, roomID, room.agent.ParticipantID)
	case StateClosed:
		return RoomView{}, fmt.Errorf("%w: room %s is closed", ErrRoomNotFound, roomID)
	}

	next, err := Next(room.state, TriggerClaim)
	if err != nil {
		return RoomView{}, err
	}

	s.mu.Lock()
	s.removeWaiting(roomID)
	s.active[roomID] = room
	s.addAgentRoom(agent.ParticipantID, roomID)
	s.mu.Unlock()

	room.state = next
	room.agent = agent
	room.lastActivityAt = s.now()

	view := room.view()
	s.logger.Info("Room claimed", "room_id", roomID, "agent_id", agent.ParticipantID)
	events.Publish(s.bus, RoomClaimed{Room: view, Agent: agent})
	return view, nil
}

// Transfer moves an active room to toAgent. Only active rooms can be
// transferred. Transferring to the current agent changes nothing and
// publishes nothing.
func (s *Store) Transfer(ctx context.Context, roomID, actorID string, toAgent auth.Identity) (RoomView, error) {
	if err := ctx.Err(); err != nil {
		return RoomView{}, err
	}
	if toAgent.ParticipantID == "" {
		return RoomView{}, fmt.Errorf("%w: empty agent id", ErrNotParticipant)
	}

	room, err := s.lookup(roomID)
	if err != nil {
		return RoomView{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	next, err := Next(room.state, TriggerTransfer)
	if err != nil {
		return room.view(), fmt.Errorf("room %s: %w", roomID, err)
	}
	if room.agent.ParticipantID == toAgent.ParticipantID {
		return room.view(), nil
	}

	previous := room.agent.ParticipantID

	s.mu.Lock()
	s.removeAgentRoom(previous, roomID)
	s.addAgentRoom(toAgent.ParticipantID, roomID)
	s.mu.Unlock()

	room.state = next
	room.agent = toAgent
	room.lastActivityAt = s.now()

	view := room.view()
	s.logger.Info("Room transferred", "room_id", roomID, "from_agent", previous, "to_agent", toAgent.ParticipantID, "actor_id", actorID)
	events.Publish(s.bus, RoomTransferred{Room: view, PreviousAgentID: previous, ActorID: actorID, Messages: room.log.since(0)})
	return view, nil
}

// Close closes a waiting or active room. It is idempotent: closing a closed
// room returns its view with changed == false. Of any number of concurrent
// closes exactly one reports changed == true, and only that one publishes
// RoomClosed.
func (s *Store) Close(ctx context.Context, roomID, actorID string) (RoomView, bool, error) {
	if err := ctx.Err(); err != nil {
		return RoomView{}, false, err
	}

	room, err := s.lookup(roomID)
	if err != nil {
		return RoomView{}, false, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	previous := room.state
	next, err := Next(previous, TriggerClose)
	if err != nil {
		return room.view(), false, err
	}
	if previous == next {
		return room.view(), false, nil
	}

	now := s.now()

	s.mu.Lock()
	switch previous {
	case StateWaiting:
		s.removeWaiting(roomID)
	case StateActive:
		delete(s.active, roomID)
		s.removeAgentRoom(room.agent.ParticipantID, roomID)
	}
	if s.byCustomer[room.customer.ParticipantID] == roomID {
		delete(s.byCustomer, room.customer.ParticipantID)
	}
	s.closedAt[roomID] = now
	s.mu.Unlock()

	room.state = next
	room.closedAt = now
	room.closedBy = actorID
	room.lastActivityAt = now

	view := room.view()
	s.logger.Info("Room closed", "room_id", roomID, "actor_id", actorID, "previous_state", previous)
	events.Publish(s.bus, RoomClosed{Room: view, PreviousState: previous, Messages: room.log.since(0)})
	return view, true, nil
}

// Append adds a message from sender to the room's log. The sender must be the
// room's customer, its assigned agent, or an admin. Closed rooms reject
// appends with ErrRoomClosed.
func (s *Store) Append(ctx context.Context, roomID string, sender auth.Identity, body string) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	room, err := s.lookup(roomID)
	if err != nil {
		return Message{}, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.state == StateClosed {
		return Message{}, fmt.Errorf("%w: room %s", ErrRoomClosed, roomID)
	}
	if !room.allowsSender(sender) {
		return Message{}, fmt.Errorf("%w: %s in room %s", ErrNotParticipant, sender.ParticipantID, roomID)
	}

	now := s.now()
	msg := room.log.append(roomID, sender, body, now)
	room.lastActivityAt = now

	events.Publish(s.bus, MessageAppended{Room: room.view(), Message: msg})
	return msg, nil
}

// allowsSender must be called with r.mu held
func (r *Room) allowsSender(sender auth.Identity) bool {
	if sender.ParticipantID == "" {
		return false
	}
	if sender.Role == auth.RoleAdmin {
		return sender.OrganizationID == "" || r.organizationID == "" || sender.OrganizationID == r.organizationID
	}
	return sender.ParticipantID == r.customer.ParticipantID || sender.ParticipantID == r.agent.ParticipantID
}

// History returns the room's messages with ID > sinceID in increasing ID
// order. The sequence reflects the log at the time of the call; messages
// appended later are not included.
func (s *Store) History(roomID string, sinceID int64) (iter.Seq[Message], error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return nil, err
	}

	room.mu.Lock()
	msgs := room.log.since(sinceID)
	room.mu.Unlock()

	return Seq(msgs), nil
}

// Snapshot returns a room's view together with its full history, both taken
// under one acquisition of the room lock.
func (s *Store) Snapshot(roomID string) (RoomView, []Message, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return RoomView{}, nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	return room.view(), room.log.since(0), nil
}

// Get returns a snapshot of a room, including closed rooms not yet purged
func (s *Store) Get(roomID string) (RoomView, error) {
	room, err := s.lookup(roomID)
	if err != nil {
		return RoomView{}, err
	}
	return room.snapshot(), nil
}

// ListWaiting returns the waiting rooms oldest first
func (s *Store) ListWaiting() []RoomView {
	s.mu.RLock()
	rooms := make([]*Room, 0, s.waiting.Len())
	for e := s.waiting.Front(); e != nil; e = e.Next() {
		rooms = append(rooms, e.Value.(*Room))
	}
	s.mu.RUnlock()

	return snapshotsIn(rooms, StateWaiting)
}

// ListActive returns every active room ordered by creation time
func (s *Store) ListActive() []RoomView {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.active))
	for _, r := range s.active {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	return sortByCreation(snapshotsIn(rooms, StateActive))
}

// ActiveFor returns the active rooms assigned to agentID ordered by creation time
func (s *Store) ActiveFor(agentID string) []RoomView {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.byAgent[agentID]))
	for id := range s.byAgent[agentID] {
		if r, ok := s.rooms[id]; ok {
			rooms = append(rooms, r)
		}
	}
	s.mu.RUnlock()

	views := snapshotsIn(rooms, StateActive)
	mine := views[:0]
	for _, v := range views {
		if v.AgentID == agentID {
			mine = append(mine, v)
		}
	}
	return sortByCreation(mine)
}

// OpenRoomFor returns the customer's waiting or active room, if any
func (s *Store) OpenRoomFor(customerID string) (RoomView, bool) {
	s.mu.RLock()
	room := s.rooms[s.byCustomer[customerID]]
	s.mu.RUnlock()

	if room == nil {
		return RoomView{}, false
	}
	view := room.snapshot()
	if !view.State.Open() || view.CustomerID != customerID {
		return RoomView{}, false
	}
	return view, true
}

// Counts returns the number of waiting and active rooms
func (s *Store) Counts() (waiting, active int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.waiting.Len(), len(s.active)
}

// Purge evicts rooms closed before olderThan and returns how many were removed
func (s *Store) Purge(olderThan time.Time) int {
	s.mu.RLock()
	var candidates []*Room
	for id, at := range s.closedAt {
		if at.Before(olderThan) {
			candidates = append(candidates, s.rooms[id])
		}
	}
	s.mu.RUnlock()

	purged := 0
	for _, room := range candidates {
		if room != nil && s.purgeRoom(room, olderThan) {
			purged++
		}
	}
	return purged
}

func (s *Store) purgeRoom(room *Room, olderThan time.Time) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	if room.state != StateClosed || !room.closedAt.Before(olderThan) {
		return false
	}

	s.mu.Lock()
	if _, ok := s.rooms[room.id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.rooms, room.id)
	delete(s.closedAt, room.id)
	s.mu.Unlock()

	events.Publish(s.bus, RoomPurged{RoomID: room.id})
	return true
}

// StartCleanup starts the goroutine that purges rooms once their close grace
// period has elapsed. Stop it with StopCleanup.
func (s *Store) StartCleanup() {
	s.cleanupWg.Add(1)
	go func() {
		defer s.cleanupWg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := s.Purge(s.now().Add(-s.gracePeriod)); n > 0 {
					s.logger.Info("Purged closed rooms", "count", n)
				}
			case <-s.stopCleanup:
				return
			}
		}
	}()
}

// StopCleanup stops the cleanup goroutine and waits for it to exit. Safe to
// call more than once and without a prior StartCleanup.
func (s *Store) StopCleanup() {
	s.cleanupOnce.Do(func() { close(s.stopCleanup) })
	s.cleanupWg.Wait()
}

// lookup finds a room by id without locking it
func (s *Store) lookup(roomID string) (*Room, error) {
	s.mu.RLock()
	room, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return room, nil
}

// removeWaiting must be called with s.mu held
func (s *Store) removeWaiting(roomID string) {
	if e, ok := s.waitingIdx[roomID]; ok {
		s.waiting.Remove(e)
		delete(s.waitingIdx, roomID)
	}
}

// addAgentRoom must be called with s.mu held
func (s *Store) addAgentRoom(agentID, roomID string) {
	set, ok := s.byAgent[agentID]
	if !ok {
		set = make(map[string]struct{})
		s.byAgent[agentID] = set
	}
	set[roomID] = struct{}{}
}

// removeAgentRoom must be called with s.mu held
func (s *Store) removeAgentRoom(agentID, roomID string) {
	set := s.byAgent[agentID]
	delete(set, roomID)
	if len(set) == 0 {
		delete(s.byAgent, agentID)
	}
}

// snapshotsIn locks each room in turn and keeps those still in state.
// A room can change between the index read and its own lock; those are skipped.
func snapshotsIn(rooms []*Room, state State) []RoomView {
	views := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		if v := r.snapshot(); v.State == state {
			views = append(views, v)
		}
	}
	return views
}
