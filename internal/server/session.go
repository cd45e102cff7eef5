package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/auth"
	"github.com/redgreen/redgreen-server/internal/game"
	"github.com/redgreen/redgreen-server/internal/proto"
	"github.com/redgreen/redgreen-server/internal/store"
)

// Bounds for the "random" light duration sentinel, in seconds.
const (
	randomLightMin = 1
	randomLightMax = 30
)

// session is the per-connection state machine: Unauthenticated →
// Authenticated → {Idle, InRoom}. Once a command moves the connection into a
// room, the room owns the connection for the rest of its lifecycle.
type session struct {
	conn     *secureConn
	auth     *auth.Service
	registry *game.Registry
	results  store.ResultStore

	authAttempts  int
	tickPeriod    time.Duration
	lightDuration time.Duration
	roomCapacity  int

	user string
	log  *zerolog.Logger
}

// run drives the session and reports whether the connection was handed off
// to a room. When it was not, the caller closes the connection.
func (s *session) run(ctx context.Context) (inRoom bool) {
	if !s.authenticate(ctx) {
		s.log.Warn().Msg("authentication failed, closing connection")
		return false
	}
	logger := s.log.With().Str("user", s.user).Logger()
	s.log = &logger
	s.log.Info().Msg("authenticated")

	return s.commandLoop(ctx)
}

// authenticate runs the bounded login/signup dialog. Undecodable frames are
// fatal; rejected credentials burn one attempt each.
func (s *session) authenticate(ctx context.Context) bool {
	for attempt := 0; attempt < s.authAttempts; attempt++ {
		cmd, err := s.readCommand()
		if err != nil {
			return false
		}

		var authErr error
		switch cmd.Action {
		case proto.ActionSignup:
			authErr = s.auth.Signup(ctx, cmd.User, cmd.Pass)
		case proto.ActionLogin:
			authErr = s.auth.Login(ctx, cmd.User, cmd.Pass)
		default:
			if err := s.reply(proto.Response{OK: false, Error: "authenticate first"}); err != nil {
				return false
			}
			continue
		}

		if authErr != nil {
			if err := s.reply(proto.Response{OK: false, Error: authErrorMessage(authErr)}); err != nil {
				return false
			}
			continue
		}

		s.user = cmd.User
		if err := s.reply(proto.Response{OK: true}); err != nil {
			return false
		}
		return true
	}
	return false
}

// commandLoop dispatches idle-state commands until the connection exits or
// enters a room.
func (s *session) commandLoop(ctx context.Context) (inRoom bool) {
	for {
		cmd, err := s.readCommand()
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Warn().Err(err).Msg("command read failed")
			}
			return false
		}

		switch cmd.Action {
		case proto.ActionCreateGame:
			if s.createGame(cmd) {
				return true
			}
		case proto.ActionJoinGame:
			if s.joinGame(cmd) {
				return true
			}
		case proto.ActionStartGame:
			s.startGame(cmd)
		case proto.ActionGetStats:
			s.getStats(ctx)
		case proto.ActionExit:
			_ = s.reply(proto.Response{OK: true})
			return false
		default:
			// Unrecognized actions get a structured failure, never a
			// silent drop, and the loop keeps serving.
			if err := s.reply(proto.Response{OK: false, Error: "unknown action"}); err != nil {
				return false
			}
		}
	}
}

func (s *session) createGame(cmd proto.Command) (inRoom bool) {
	role, ok := validRole(cmd.Role)
	if !ok {
		_ = s.reply(proto.Response{OK: false, Error: "unknown role"})
		return false
	}

	seconds := cmd.LightDuration.Seconds
	if cmd.LightDuration.Random {
		// Resolved once at creation, never re-rolled per toggle.
		seconds = randomLightMin + rand.Intn(randomLightMax-randomLightMin+1)
	}
	lightDuration := time.Duration(seconds) * time.Second
	if lightDuration <= 0 {
		lightDuration = s.lightDuration
	}

	capacity := cmd.MaxPlayers
	if capacity <= 0 {
		capacity = s.roomCapacity
	}

	room := s.registry.Create(game.RoomConfig{
		Capacity:      capacity,
		LightDuration: lightDuration,
		TickPeriod:    s.tickPeriod,
	})
	if err := room.AddParticipant(s.user, s.conn, role); err != nil {
		_ = s.reply(proto.Response{OK: false, Error: err.Error(), RoomID: room.ID})
		return false
	}

	s.log.Info().Str("room_id", room.ID).Str("role", role).Msg("room created")
	if err := s.reply(proto.Response{OK: true, RoomID: room.ID}); err != nil {
		return false
	}
	return true
}

func (s *session) joinGame(cmd proto.Command) (inRoom bool) {
	role, ok := validRole(cmd.Role)
	if !ok {
		_ = s.reply(proto.Response{OK: false, Error: "unknown role"})
		return false
	}

	room, found := s.registry.Lookup(cmd.RoomID)
	if !found {
		_ = s.reply(proto.Response{OK: false, Error: "room not found"})
		return false
	}
	if err := room.AddParticipant(s.user, s.conn, role); err != nil {
		_ = s.reply(proto.Response{OK: false, Error: err.Error()})
		return false
	}

	s.log.Info().Str("room_id", room.ID).Str("role", role).Msg("room joined")
	if err := s.reply(proto.Response{OK: true, Players: room.Players()}); err != nil {
		return false
	}
	return true
}

func (s *session) startGame(cmd proto.Command) {
	room, found := s.registry.Lookup(cmd.RoomID)
	if !found {
		_ = s.reply(proto.Response{OK: false, Error: "room not found"})
		return
	}
	room.Start()
	_ = s.reply(proto.Response{OK: true})
}

func (s *session) getStats(ctx context.Context) {
	stats, err := s.results.GetStats(ctx, s.user)
	if err != nil {
		s.log.Error().Err(err).Msg("stats lookup failed")
		_ = s.reply(proto.Response{OK: false, Error: "stats unavailable"})
		return
	}
	_ = s.reply(proto.Response{
		OK:          true,
		GamesPlayed: stats.GamesPlayed,
		Wins:        stats.Wins,
		Losses:      stats.Losses,
	})
}

func (s *session) readCommand() (proto.Command, error) {
	payload, err := s.conn.RecvFrame()
	if err != nil {
		return proto.Command{}, err
	}
	var cmd proto.Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return proto.Command{}, err
	}
	return cmd, nil
}

func (s *session) reply(resp proto.Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.conn.SendFrame(payload)
}

func validRole(role string) (string, bool) {
	switch role {
	case proto.RolePlayer, proto.RoleSpectator:
		return role, true
	case "":
		return proto.RolePlayer, true
	default:
		return "", false
	}
}

func authErrorMessage(err error) string {
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		return "username taken"
	case errors.Is(err, auth.ErrUnknownUser):
		return "unknown user"
	case errors.Is(err, auth.ErrBadCredential):
		return "bad credential"
	case errors.Is(err, auth.ErrInvalidUsername):
		return "invalid username"
	default:
		return "authentication failed"
	}
}
