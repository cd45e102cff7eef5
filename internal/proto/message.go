package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Actions accepted while a connection sits in the idle command loop.
const (
	ActionLogin      = "login"
	ActionSignup     = "signup"
	ActionCreateGame = "create_game"
	ActionJoinGame   = "join_game"
	ActionStartGame  = "start_game"
	ActionGetStats   = "get_stats"
	ActionExit       = "exit"
)

// LightDurationRandom is the sentinel a client sends to have the server
// pick a light duration once at room creation.
const LightDurationRandom = "random"

// Roles a participant can take in a room.
const (
	RolePlayer    = "player"
	RoleSpectator = "spectator"
)

// Command is the envelope for client requests. Fields beyond Action and User
// are populated per action.
type Command struct {
	Action string `json:"action"`
	User   string `json:"user,omitempty"`
	Pass   string `json:"pass,omitempty"`

	// create_game
	LightDuration LightDuration `json:"light_duration,omitempty"`
	MaxPlayers    int           `json:"max_players,omitempty"`
	Role          string        `json:"role,omitempty"`

	// join_game / start_game
	RoomID string `json:"room_id,omitempty"`
}

// LightDuration is either a fixed number of seconds or the "random" sentinel,
// resolved once at room creation.
type LightDuration struct {
	Random  bool
	Seconds int
}

// UnmarshalJSON accepts a JSON number of seconds or the string "random".
func (d *LightDuration) UnmarshalJSON(data []byte) error {
	var seconds int
	if err := json.Unmarshal(data, &seconds); err == nil {
		d.Random = false
		d.Seconds = seconds
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("light_duration: %w", err)
	}
	if s != LightDurationRandom {
		return fmt.Errorf("light_duration: unknown sentinel %q", s)
	}
	d.Random = true
	d.Seconds = 0
	return nil
}

// MarshalJSON emits the sentinel or the fixed second count.
func (d LightDuration) MarshalJSON() ([]byte, error) {
	if d.Random {
		return json.Marshal(LightDurationRandom)
	}
	return json.Marshal(d.Seconds)
}

// Response is the envelope for server replies to idle-state commands.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	RoomID  string `json:"room_id,omitempty"`
	Players int    `json:"players,omitempty"`

	GamesPlayed int `json:"games_played,omitempty"`
	Wins        int `json:"wins,omitempty"`
	Losses      int `json:"losses,omitempty"`
}

// ErrShortFrame is returned when a tick frame is missing its flag header.
var ErrShortFrame = errors.New("tick frame shorter than flag header")

// TickFlags is the 3-boolean header leading every in-room frame.
// Server to client the flags read (room_active, participant_alive,
// light_is_red); client to server the first flag carries the player's win
// declaration and the remaining two are reserved.
type TickFlags struct {
	RoomActive bool
	Alive      bool
	RedLight   bool
}

// EncodeTick prepends the flag header to the opaque image bytes.
func EncodeTick(flags TickFlags, image []byte) []byte {
	buf := make([]byte, 3, 3+len(image))
	buf[0] = encodeBool(flags.RoomActive)
	buf[1] = encodeBool(flags.Alive)
	buf[2] = encodeBool(flags.RedLight)
	return append(buf, image...)
}

// DecodeTick splits a tick frame into its flag header and image bytes.
func DecodeTick(frame []byte) (TickFlags, []byte, error) {
	if len(frame) < 3 {
		return TickFlags{}, nil, ErrShortFrame
	}
	flags := TickFlags{
		RoomActive: frame[0] != 0,
		Alive:      frame[1] != 0,
		RedLight:   frame[2] != 0,
	}
	return flags, frame[3:], nil
}

func encodeBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}
