package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/proto"
	"github.com/redgreen/redgreen-server/internal/store"
)

// fakeConn is an in-memory Conn: the test feeds frames into in and reads
// what the room sent from out. Sends drop when the test is not draining,
// mirroring a slow consumer.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) SendFrame(payload []byte) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.out <- payload:
	default:
		// Drop if slow consumer.
	}
	return nil
}

func (c *fakeConn) RecvFrame() ([]byte, error) {
	select {
	case payload := <-c.in:
		return payload, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) feed(t *testing.T, win bool, image []byte) {
	t.Helper()
	frame := proto.EncodeTick(proto.TickFlags{RoomActive: win}, image)
	select {
	case c.in <- frame:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out feeding frame")
	}
}

// mustTickFrame receives one frame sent by the room within the deadline.
func mustTickFrame(t *testing.T, c *fakeConn) (proto.TickFlags, []byte) {
	t.Helper()
	select {
	case payload := <-c.out:
		flags, image, err := proto.DecodeTick(payload)
		if err != nil {
			t.Fatalf("room sent undecodable frame: %v", err)
		}
		return flags, image
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame from room")
		return proto.TickFlags{}, nil
	}
}

func waitDone(t *testing.T, room *Room) {
	t.Helper()
	select {
	case <-room.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("room did not finish in time")
	}
}

// resultRecorder is an in-memory ResultStore.
type resultRecorder struct {
	mu   sync.Mutex
	rows map[string]bool // username -> won
	fail bool
}

func newResultRecorder() *resultRecorder {
	return &resultRecorder{rows: make(map[string]bool)}
}

func (r *resultRecorder) SaveResult(_ context.Context, username string, won bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("disk on fire")
	}
	r.rows[username] = won
	return nil
}

func (r *resultRecorder) GetStats(_ context.Context, _ string) (store.Stats, error) {
	return store.Stats{}, nil
}

func (r *resultRecorder) get(username string) (bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	won, ok := r.rows[username]
	return won, ok
}

func testRoom(t *testing.T, cfg RoomConfig, detectors DetectorFactory, results store.ResultStore) *Room {
	t.Helper()
	logger := zerolog.Nop()
	if detectors == nil {
		detectors = func() Detector { return NopDetector{} }
	}
	if results == nil {
		results = newResultRecorder()
	}
	return NewRoom("test1", cfg, detectors, results, nil, &logger)
}

func stillDetector() Detector {
	return &repeatDetector{track: at("1", 0, 0)}
}

// repeatDetector reports one identity that never moves.
type repeatDetector struct {
	track Track
}

func (d *repeatDetector) Observe(_ []byte) []Track {
	return []Track{d.track}
}

func TestRoomAutoStartsAtCapacity(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	if got := room.Phase(); got != PhaseWaiting {
		t.Fatalf("fresh room phase = %v, want waiting", got)
	}

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Capacity met: no explicit start needed.
	deadline := time.Now().Add(time.Second)
	for room.Phase() != PhaseRunning {
		if time.Now().After(deadline) {
			t.Fatalf("room did not start at capacity")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	waitDone(t, room)
}

func TestRoomStartIsIdempotent(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 2, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	// Two quick triggers must not spawn two competing tick loops; a second
	// loop would run finish twice and close the done channel twice.
	room.Start()
	room.Start()

	if got := room.Phase(); got != PhaseRunning {
		t.Fatalf("phase = %v, want running", got)
	}

	conn.Close()
	waitDone(t, room)

	room.Start() // after Finished: still a no-op
	if got := room.Phase(); got != PhaseFinished {
		t.Fatalf("phase = %v, want finished", got)
	}
}

func TestRoomRejectsJoinAfterStart(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	first := newFakeConn()
	if err := room.AddParticipant("alice", first, proto.RolePlayer); err != nil {
		t.Fatalf("first join failed: %v", err)
	}

	second := newFakeConn()
	err := room.AddParticipant("bob", second, proto.RolePlayer)
	if !errors.Is(err, ErrRoomStarted) && !errors.Is(err, ErrRoomFull) {
		t.Fatalf("second join error = %v, want room full/started", err)
	}

	// The first participant's admission is unaffected.
	if got := room.Players(); got != 1 {
		t.Fatalf("players = %d, want 1", got)
	}
	first.feed(t, false, []byte("frame"))
	flags, _ := mustTickFrame(t, first)
	if !flags.RoomActive || !flags.Alive {
		t.Fatalf("first player should still be in an active room, got %+v", flags)
	}

	first.Close()
	waitDone(t, room)
}

func TestRoomSpectatorsJoinAnyPhaseUncapped(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	player := newFakeConn()
	if err := room.AddParticipant("alice", player, proto.RolePlayer); err != nil {
		t.Fatalf("player join failed: %v", err)
	}

	// Room is already Running; spectators still get in.
	for i := 0; i < 3; i++ {
		if err := room.AddParticipant("watcher", newFakeConn(), proto.RoleSpectator); err != nil {
			t.Fatalf("spectator join failed: %v", err)
		}
	}
	if got := room.Spectators(); got != 3 {
		t.Fatalf("spectators = %d, want 3", got)
	}

	player.Close()
	waitDone(t, room)
}

func TestRoomLightTogglesOnDuration(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: 60 * time.Millisecond, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	conn.feed(t, false, []byte("frame"))

	sawGreen, sawRed := false, false
	transitions := 0
	last := false
	deadline := time.After(time.Second)
	for !(sawGreen && sawRed && transitions >= 2) {
		select {
		case payload := <-conn.out:
			flags, _, err := proto.DecodeTick(payload)
			if err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if flags.RedLight {
				sawRed = true
			} else {
				sawGreen = true
			}
			if flags.RedLight != last {
				transitions++
				last = flags.RedLight
			}
		case <-deadline:
			t.Fatalf("light never cycled (green=%v red=%v transitions=%d)", sawGreen, sawRed, transitions)
		}
	}

	conn.Close()
	waitDone(t, room)
}

func TestRoomLightHoldsConfiguredDuration(t *testing.T) {
	const lightDur = 150 * time.Millisecond
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: lightDur, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	conn.feed(t, false, []byte("frame"))

	// Record when each light transition is observed.
	var transitions []time.Time
	last := false
	deadline := time.After(3 * time.Second)
	for len(transitions) < 3 {
		select {
		case payload := <-conn.out:
			flags, _, err := proto.DecodeTick(payload)
			if err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if flags.RedLight != last {
				transitions = append(transitions, time.Now())
				last = flags.RedLight
			}
		case <-deadline:
			t.Fatalf("light never cycled (transitions=%d)", len(transitions))
		}
	}

	// Each light phase must hold for roughly the configured duration. A
	// toggle that fails to restart the timer flaps once per tick instead.
	minHold := lightDur / 2
	for i := 1; i < len(transitions); i++ {
		if held := transitions[i].Sub(transitions[i-1]); held < minHold {
			t.Fatalf("light held only %v between transitions, want at least %v", held, minHold)
		}
	}

	conn.Close()
	waitDone(t, room)
}

// stuckConn blocks every send until released, like a peer that stopped
// reading its socket.
type stuckConn struct {
	*fakeConn
	sending chan struct{}
	release chan struct{}
	once    sync.Once
}

func newStuckConn() *stuckConn {
	return &stuckConn{
		fakeConn: newFakeConn(),
		sending:  make(chan struct{}),
		release:  make(chan struct{}),
	}
}

func (c *stuckConn) SendFrame(payload []byte) error {
	c.once.Do(func() { close(c.sending) })
	<-c.release
	return c.fakeConn.SendFrame(payload)
}

func TestRoomStalledPeerDoesNotHoldLock(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	conn := newStuckConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	conn.feed(t, false, []byte("frame"))

	select {
	case <-conn.sending:
	case <-time.After(2 * time.Second):
		t.Fatalf("room never attempted a send")
	}

	// With a write in flight and blocked, room state must stay reachable.
	phased := make(chan Phase, 1)
	go func() { phased <- room.Phase() }()
	select {
	case got := <-phased:
		if got != PhaseRunning {
			t.Fatalf("phase = %v, want running", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("room lock held across a blocked send")
	}

	// Ingest keeps flowing while the send is stuck.
	conn.feed(t, false, []byte("frame2"))

	close(conn.release)
	conn.Close()
	waitDone(t, room)
}

func TestRoomAbandonedBeforeStartFinishes(t *testing.T) {
	results := newResultRecorder()
	room := testRoom(t, RoomConfig{Capacity: 2, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, results)

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if got := room.Phase(); got != PhaseWaiting {
		t.Fatalf("phase = %v, want waiting", got)
	}

	// The only player drops before a second one arrives.
	conn.Close()
	waitDone(t, room)

	if got := room.Phase(); got != PhaseFinished {
		t.Fatalf("phase = %v, want finished", got)
	}
	if _, ok := results.get("alice"); ok {
		t.Fatalf("result row recorded for a game that never started")
	}
}

func TestRoomAbandonedBySpectatorFinishes(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 2, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	conn := newFakeConn()
	if err := room.AddParticipant("watcher", conn, proto.RoleSpectator); err != nil {
		t.Fatalf("spectator join failed: %v", err)
	}

	conn.Close()
	waitDone(t, room)
	if got := room.Phase(); got != PhaseFinished {
		t.Fatalf("phase = %v, want finished", got)
	}
}

func TestRoomAliveFlagIsMonotonic(t *testing.T) {
	// bob walks under a fast red light and gets eliminated while alice keeps
	// the room running. bob's per-tick flags must read true...true,false...
	// false with no flapping.
	bobDetector := &walkingDetector{}
	aliceDetector := stillDetector()
	detectors := func() Detector {
		if bobDetector != nil {
			d := bobDetector
			bobDetector = nil
			return d
		}
		return aliceDetector
	}
	room := testRoom(t,
		RoomConfig{Capacity: 2, LightDuration: 20 * time.Millisecond, TickPeriod: 10 * time.Millisecond},
		detectors, nil)

	bob := newFakeConn()
	if err := room.AddParticipant("bob", bob, proto.RolePlayer); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	alice := newFakeConn()
	if err := room.AddParticipant("alice", alice, proto.RolePlayer); err != nil {
		t.Fatalf("alice join failed: %v", err)
	}
	bob.feed(t, false, []byte("bob-frame"))
	alice.feed(t, false, []byte("alice-frame"))

	deadFrames := 0
	wasDead := false
	deadline := time.After(3 * time.Second)
	for deadFrames < 3 {
		select {
		case payload := <-bob.out:
			flags, _, err := proto.DecodeTick(payload)
			if err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if !flags.RoomActive {
				t.Fatalf("room ended while alice was still standing")
			}
			if wasDead && flags.Alive {
				t.Fatalf("alive flag reverted from false to true")
			}
			if !flags.Alive {
				wasDead = true
				deadFrames++
			}
		case <-deadline:
			t.Fatalf("bob was never eliminated (deadFrames=%d)", deadFrames)
		}
	}

	bob.Close()
	alice.Close()
	waitDone(t, room)
}

// walkingDetector reports one identity drifting steadily across the frame.
type walkingDetector struct {
	step int
}

func (d *walkingDetector) Observe(_ []byte) []Track {
	d.step++
	return []Track{at("1", d.step*30, 0)}
}

func TestRoomWinnerWriteOnceAndPreemptsElimination(t *testing.T) {
	// bob joins first and is walking under red light; alice declares a win.
	// Winner must be alice even though bob's elimination lands the same tick,
	// and bob's elimination must still be recorded.
	results := newResultRecorder()
	bobDetector := &walkingDetector{}
	aliceDetector := stillDetector()
	detectors := func() Detector {
		if bobDetector != nil {
			d := bobDetector
			bobDetector = nil
			return d
		}
		return aliceDetector
	}
	room := testRoom(t,
		RoomConfig{Capacity: 2, LightDuration: 15 * time.Millisecond, TickPeriod: 10 * time.Millisecond},
		detectors, results)

	bob := newFakeConn()
	if err := room.AddParticipant("bob", bob, proto.RolePlayer); err != nil {
		t.Fatalf("bob join failed: %v", err)
	}
	alice := newFakeConn()
	if err := room.AddParticipant("alice", alice, proto.RolePlayer); err != nil {
		t.Fatalf("alice join failed: %v", err)
	}

	// Let baselines land on a first evaluated frame, then declare.
	bob.feed(t, false, []byte("bob-frame"))
	alice.feed(t, false, []byte("alice-frame"))
	mustTickFrame(t, alice)
	alice.feed(t, true, []byte("alice-frame"))

	waitDone(t, room)

	winner := room.WinnerInfo()
	if winner == nil || winner.User != "alice" {
		t.Fatalf("winner = %+v, want alice", winner)
	}

	if won, ok := results.get("alice"); !ok || !won {
		t.Fatalf("alice result = (%v,%v), want a recorded win", won, ok)
	}
	if won, ok := results.get("bob"); !ok || won {
		t.Fatalf("bob result = (%v,%v), want a recorded loss", won, ok)
	}
}

func TestRoomFinishSurvivesResultStoreFailure(t *testing.T) {
	results := newResultRecorder()
	results.fail = true

	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, results)

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	conn.Close()

	// Teardown must complete even though every write fails.
	waitDone(t, room)
	if got := room.Phase(); got != PhaseFinished {
		t.Fatalf("phase = %v, want finished", got)
	}
}

func TestRoomFinalFrameAnnouncesResult(t *testing.T) {
	room := testRoom(t, RoomConfig{Capacity: 1, LightDuration: time.Minute, TickPeriod: 10 * time.Millisecond}, stillDetector, nil)

	conn := newFakeConn()
	if err := room.AddParticipant("alice", conn, proto.RolePlayer); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	conn.feed(t, false, []byte("frame"))
	mustTickFrame(t, conn)
	conn.feed(t, true, []byte("frame"))

	waitDone(t, room)

	// Drain until the final frame shows up.
	deadline := time.After(time.Second)
	for {
		select {
		case payload := <-conn.out:
			flags, image, err := proto.DecodeTick(payload)
			if err != nil {
				t.Fatalf("bad frame: %v", err)
			}
			if flags.RoomActive {
				continue
			}
			if len(image) == 0 {
				t.Fatalf("final frame carries no result banner")
			}
			return
		case <-deadline:
			t.Fatalf("final frame never arrived")
		}
	}
}
