package game

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/store"
	"github.com/redgreen/redgreen-server/internal/utils"
)

const roomCodeLength = 5

// RoomInfo is a point-in-time view of one room for the ops surface.
type RoomInfo struct {
	ID         string `json:"id"`
	Phase      string `json:"phase"`
	Players    int    `json:"players"`
	Spectators int    `json:"spectators"`
}

// Registry creates rooms with unique identifiers and looks them up.
// Rooms remove themselves once finished.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	detectors DetectorFactory
	results   store.ResultStore
	log       *zerolog.Logger
}

// NewRegistry builds an empty registry. Every room it creates shares the
// given detector factory and result store.
func NewRegistry(detectors DetectorFactory, results store.ResultStore, logger *zerolog.Logger) *Registry {
	return &Registry{
		rooms:     make(map[string]*Room),
		detectors: detectors,
		results:   results,
		log:       logger,
	}
}

// Create allocates a room with a fresh unique code.
func (g *Registry) Create(cfg RoomConfig) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := utils.RoomCode(roomCodeLength)
	for _, taken := g.rooms[id]; taken; _, taken = g.rooms[id] {
		id = utils.RoomCode(roomCodeLength)
	}

	room := NewRoom(id, cfg, g.detectors, g.results, g.Remove, g.log)
	g.rooms[id] = room
	return room
}

// Lookup returns the room with the given id, if present.
func (g *Registry) Lookup(id string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[id]
	return room, ok
}

// Remove deletes a room from the registry. Idempotent.
func (g *Registry) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, id)
}

// Snapshot lists the registered rooms for the ops surface.
func (g *Registry) Snapshot() []RoomInfo {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	infos := make([]RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, RoomInfo{
			ID:         room.ID,
			Phase:      room.Phase().String(),
			Players:    room.Players(),
			Spectators: room.Spectators(),
		})
	}
	return infos
}
