package game

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/proto"
	"github.com/redgreen/redgreen-server/internal/store"
)

var (
	// ErrRoomFull is returned when a player joins a room at capacity.
	ErrRoomFull = errors.New("room full")
	// ErrRoomStarted is returned when a player joins after the game began.
	ErrRoomStarted = errors.New("game already started")
)

// Phase is a room's lifecycle state. Transitions run Waiting → Running →
// Finished exactly once and never backward.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Conn is the connection surface a room drives once a participant is admitted.
// Implementations must allow Send and Recv from different goroutines.
type Conn interface {
	SendFrame(payload []byte) error
	RecvFrame() ([]byte, error)
	Close() error
}

// Winner records who won and which tracked identity carried the win.
type Winner struct {
	User  string
	Label string
}

type player struct {
	user   string
	conn   Conn
	engine *EliminationEngine
	frame  []byte // single slot, latest wins; nil until the first frame lands
	win    bool
	alive  bool
}

// RoomConfig carries the per-room parameters resolved at creation time.
type RoomConfig struct {
	Capacity      int
	LightDuration time.Duration
	TickPeriod    time.Duration
}

// Room is one game instance: participant admission, the tick loop, light
// cycling, elimination, winner arbitration and result emission. All mutable
// state is confined to the room's own lock; independent rooms never contend.
type Room struct {
	ID string

	mu         sync.Mutex
	phase      Phase
	started    bool
	capacity   int
	lightDur   time.Duration
	tickPeriod time.Duration
	redLight   bool
	lastToggle time.Time
	players    []*player // join order; tick evaluation iterates this slice
	spectators []Conn
	winner     *Winner

	detectors DetectorFactory
	results   store.ResultStore
	onFinish  func(roomID string)
	log       *zerolog.Logger
	done      chan struct{}
}

// NewRoom constructs a room in the Waiting phase.
func NewRoom(id string, cfg RoomConfig, detectors DetectorFactory, results store.ResultStore, onFinish func(string), logger *zerolog.Logger) *Room {
	roomLogger := logger.With().Str("room_id", id).Logger()
	return &Room{
		ID:         id,
		phase:      PhaseWaiting,
		capacity:   cfg.Capacity,
		lightDur:   cfg.LightDuration,
		tickPeriod: cfg.TickPeriod,
		detectors:  detectors,
		results:    results,
		onFinish:   onFinish,
		log:        &roomLogger,
		done:       make(chan struct{}),
	}
}

// AddParticipant admits a user to the room. Players are only admitted while
// the room is Waiting and below capacity; each admitted player gets its own
// frame-ingest goroutine. Spectators are uncapped and join in any phase.
// Reaching capacity starts the game.
func (r *Room) AddParticipant(user string, conn Conn, role string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if role == proto.RoleSpectator {
		r.spectators = append(r.spectators, conn)
		r.log.Info().Msg("spectator joined")
		go r.watchSpectator(conn)
		return nil
	}

	if r.phase != PhaseWaiting {
		return ErrRoomStarted
	}
	if len(r.players) >= r.capacity {
		return ErrRoomFull
	}

	p := &player{
		user:   user,
		conn:   conn,
		engine: NewEliminationEngine(r.detectors()),
		alive:  true,
	}
	r.players = append(r.players, p)
	r.log.Info().Str("user", user).Int("players", len(r.players)).Msg("player joined")

	go r.ingest(p)

	if len(r.players) == r.capacity {
		r.startLocked()
	}
	return nil
}

// Start triggers the tick loop for rooms below capacity. Safe to invoke any
// number of times; only the first call in the Waiting phase spawns the loop.
func (r *Room) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startLocked()
}

// startLocked performs the Waiting→Running check-and-set under the room lock
// so overlapping triggers can never spawn two competing tick loops.
func (r *Room) startLocked() {
	if r.phase != PhaseWaiting {
		return
	}
	r.phase = PhaseRunning
	r.started = true
	r.lastToggle = time.Now()
	r.log.Info().Int("players", len(r.players)).Msg("game started")
	go r.run()
}

// Players returns the current player count.
func (r *Room) Players() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players)
}

// Spectators returns the current spectator count.
func (r *Room) Spectators() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spectators)
}

// Phase returns the room's current lifecycle phase.
func (r *Room) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// WinnerInfo returns the recorded winner, or nil if none was declared.
func (r *Room) WinnerInfo() *Winner {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.winner == nil {
		return nil
	}
	w := *r.winner
	return &w
}

// Done is closed when the room has finished and emitted its results.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// ingest continuously decodes frames from one player's connection into its
// single-slot buffer. The slot is always overwritten, never queued; staleness
// resolves as latest-wins and the reader is never blocked by the tick loop.
func (r *Room) ingest(p *player) {
	for {
		payload, err := p.conn.RecvFrame()
		if err != nil {
			r.mu.Lock()
			stopped := r.phase == PhaseFinished
			p.alive = false
			// A Waiting room whose every admitted player has dropped can
			// never start; the check-and-set below elects exactly one
			// goroutine to run the teardown.
			abandoned := r.phase == PhaseWaiting && r.noneAliveLocked()
			if abandoned {
				r.phase = PhaseFinished
			}
			r.mu.Unlock()
			if !stopped {
				r.log.Warn().Err(err).Str("user", p.user).Msg("frame ingest stopped")
			}
			if abandoned {
				r.log.Info().Msg("room abandoned before start")
				r.finish()
			}
			return
		}

		flags, image, err := proto.DecodeTick(payload)
		if err != nil {
			r.log.Warn().Err(err).Str("user", p.user).Msg("malformed tick frame")
			continue
		}

		r.mu.Lock()
		finished := r.phase == PhaseFinished
		if !finished {
			p.frame = image
			// First inbound flag carries the player's win declaration.
			p.win = flags.RoomActive
		}
		r.mu.Unlock()
		if finished {
			return
		}
	}
}

// watchSpectator drains a spectator's connection so its disconnect is
// observed. A Waiting room left with no players and no spectators is
// abandoned and torn down the same way the player ingest path does it.
func (r *Room) watchSpectator(conn Conn) {
	for {
		if _, err := conn.RecvFrame(); err != nil {
			r.mu.Lock()
			r.dropSpectatorLocked(conn)
			abandoned := r.phase == PhaseWaiting && len(r.players) == 0 && len(r.spectators) == 0
			if abandoned {
				r.phase = PhaseFinished
			}
			r.mu.Unlock()
			if abandoned {
				r.log.Info().Msg("room abandoned before start")
				r.finish()
			}
			return
		}
	}
}

func (r *Room) dropSpectatorLocked(conn Conn) {
	for i, sc := range r.spectators {
		if sc == conn {
			r.spectators = append(r.spectators[:i], r.spectators[i+1:]...)
			return
		}
	}
}

// run drives the tick loop until the room finishes. The inter-tick wait
// happens outside the lock so ingest goroutines are never starved.
func (r *Room) run() {
	ticker := time.NewTicker(r.tickPeriod)
	defer ticker.Stop()

	for range ticker.C {
		if r.tick() {
			break
		}
	}
	r.finish()
}

// outbound is one frame scheduled for delivery after the evaluation pass
// releases the room lock.
type outbound struct {
	conn    Conn
	payload []byte
	player  *player // nil for spectator sends
}

// tick runs one evaluation pass under the room lock and reports whether the
// room reached Finished. Frame delivery happens after the lock is released
// so a stalled peer's blocked write never holds up frame ingest.
func (r *Room) tick() bool {
	r.mu.Lock()

	// 1. Light cycling: toggle when the current light has run its duration.
	if time.Since(r.lastToggle) >= r.lightDur {
		r.redLight = !r.redLight
		r.lastToggle = time.Now()
		r.log.Debug().Bool("red", r.redLight).Msg("light toggled")
	}

	// 2. Evaluate each player in join order. A player with no frame yet is
	// skipped, never eliminated. The first win declaration records the
	// winner and stops further evaluation this tick.
	for _, p := range r.players {
		if !p.alive || p.frame == nil {
			continue
		}
		verdict := p.engine.Evaluate(r.redLight, p.frame, p.win)
		if !verdict.Alive {
			p.alive = false
			r.log.Info().Str("user", p.user).Msg("player eliminated")
		}
		if verdict.WinnerDeclared && r.winner == nil {
			r.winner = &Winner{User: p.user, Label: verdict.WinnerLabel}
			r.log.Info().Str("user", p.user).Str("label", verdict.WinnerLabel).Msg("winner declared")
			break
		}
	}

	// 3. Termination: an explicit winner or a wiped-out field ends the game.
	if r.winner != nil || r.noneAliveLocked() {
		r.phase = PhaseFinished
		r.mu.Unlock()
		return true
	}

	// 4. Snapshot personalized per-player results and one composite for
	// spectators while still holding the lock.
	var sends []outbound
	var aliveFrames [][]byte
	for _, p := range r.players {
		if p.frame == nil {
			continue
		}
		flags := proto.TickFlags{RoomActive: true, Alive: p.alive, RedLight: r.redLight}
		sends = append(sends, outbound{conn: p.conn, payload: proto.EncodeTick(flags, p.frame), player: p})
		if p.alive {
			aliveFrames = append(aliveFrames, p.frame)
		}
	}
	if len(aliveFrames) > 0 && len(r.spectators) > 0 {
		composite := proto.EncodeTick(
			proto.TickFlags{RoomActive: true, Alive: true, RedLight: r.redLight},
			bytes.Join(aliveFrames, nil),
		)
		for _, sc := range r.spectators {
			sends = append(sends, outbound{conn: sc, payload: composite})
		}
	}
	r.mu.Unlock()

	// 5. Deliver outside the lock; a failed player write counts as a drop.
	var dropped []*player
	for _, s := range sends {
		if err := s.conn.SendFrame(s.payload); err != nil {
			if s.player != nil {
				dropped = append(dropped, s.player)
				r.log.Warn().Err(err).Str("user", s.player.user).Msg("player send failed")
			} else {
				r.log.Warn().Err(err).Msg("spectator send failed")
			}
		}
	}
	if len(dropped) > 0 {
		r.mu.Lock()
		for _, p := range dropped {
			p.alive = false
		}
		r.mu.Unlock()
	}

	return false
}

// noneAliveLocked reports whether every admitted player is out.
func (r *Room) noneAliveLocked() bool {
	for _, p := range r.players {
		if p.alive {
			return false
		}
	}
	return true
}

// finish runs exactly once, after the Finished phase is set by the tick loop
// or by the abandonment paths: it sends the final result to everyone,
// persists one result row per player of a started game, and releases the
// room's connections.
func (r *Room) finish() {
	r.mu.Lock()
	winner := r.winner
	started := r.started
	players := append([]*player(nil), r.players...)
	spectators := append([]Conn(nil), r.spectators...)
	redLight := r.redLight
	r.mu.Unlock()

	banner := "Everyone eliminated"
	if winner != nil {
		banner = fmt.Sprintf("Winner: %s (%s)", winner.User, winner.Label)
	}
	final := proto.EncodeTick(
		proto.TickFlags{RoomActive: false, Alive: false, RedLight: redLight},
		[]byte(banner),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, p := range players {
		if err := p.conn.SendFrame(final); err != nil {
			r.log.Warn().Err(err).Str("user", p.user).Msg("final send failed")
		}
		// No result rows for a room abandoned before its game ran.
		if !started {
			continue
		}
		won := winner != nil && winner.User == p.user
		// A failed write never aborts the shutdown path.
		if err := r.results.SaveResult(ctx, p.user, won); err != nil {
			r.log.Error().Err(err).Str("user", p.user).Msg("save result failed")
		}
	}
	for _, sc := range spectators {
		if err := sc.SendFrame(final); err != nil {
			r.log.Warn().Err(err).Msg("final spectator send failed")
		}
	}

	for _, p := range players {
		_ = p.conn.Close()
	}
	for _, sc := range spectators {
		_ = sc.Close()
	}

	r.log.Info().Bool("has_winner", winner != nil).Msg("room finished")
	close(r.done)
	if r.onFinish != nil {
		r.onFinish(r.ID)
	}
}
