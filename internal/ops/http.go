package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/game"
)

// Server exposes a read-only operational surface next to the game protocol:
// health and a view of the live rooms. It never mutates game state.
type Server struct {
	http *http.Server
	log  *zerolog.Logger
}

// New builds the ops HTTP server over the given registry.
func New(addr string, registry *game.Registry, logger *zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, registry.Snapshot())
	})
	router.GET("/rooms/:id", func(c *gin.Context) {
		room, found := registry.Lookup(c.Param("id"))
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		info := game.RoomInfo{
			ID:         room.ID,
			Phase:      room.Phase().String(),
			Players:    room.Players(),
			Spectators: room.Spectators(),
		}
		c.JSON(http.StatusOK, info)
	})

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: logger,
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info().Str("addr", s.http.Addr).Msg("ops endpoint listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	}
}
