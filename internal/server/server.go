package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/redgreen/redgreen-server/internal/auth"
	"github.com/redgreen/redgreen-server/internal/config"
	"github.com/redgreen/redgreen-server/internal/game"
	"github.com/redgreen/redgreen-server/internal/store"
	"github.com/redgreen/redgreen-server/internal/wire"
)

// Server accepts TCP connections and runs one session per connection:
// key exchange, bounded authentication, then command dispatch.
type Server struct {
	addr          string
	authAttempts  int
	tickPeriod    time.Duration
	lightDuration time.Duration
	roomCapacity  int

	kx       *wire.KeyExchange
	auth     *auth.Service
	registry *game.Registry
	results  store.ResultStore
	log      *zerolog.Logger
}

// New builds the TCP game server.
func New(cfg config.Config, kx *wire.KeyExchange, authService *auth.Service, registry *game.Registry, results store.ResultStore, logger *zerolog.Logger) *Server {
	return &Server{
		addr:          cfg.ListenAddr,
		authAttempts:  cfg.AuthAttempts,
		tickPeriod:    cfg.TickPeriod,
		lightDuration: cfg.LightDuration,
		roomCapacity:  cfg.RoomCapacity,
		kx:            kx,
		auth:          authService,
		registry:      registry,
		results:       results,
		log:           logger,
	}
}

// Serve listens on the configured address and accepts connections until the
// context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.log.Info().Str("addr", s.addr).Msg("listening")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

// handle runs one connection from handshake to hand-off or teardown.
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	sessionID := uuid.NewString()
	logger := s.log.With().
		Str("session_id", sessionID).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	logger.Debug().Msg("connection accepted")

	key, err := s.kx.ServerHandshake(conn)
	if err != nil {
		logger.Warn().Err(err).Msg("handshake failed")
		conn.Close()
		return
	}

	codec, err := wire.NewSealedCodec(key)
	if err != nil {
		logger.Error().Err(err).Msg("session codec init failed")
		conn.Close()
		return
	}

	sess := &session{
		conn:          newSecureConn(conn, codec),
		auth:          s.auth,
		registry:      s.registry,
		results:       s.results,
		authAttempts:  s.authAttempts,
		tickPeriod:    s.tickPeriod,
		lightDuration: s.lightDuration,
		roomCapacity:  s.roomCapacity,
		log:           &logger,
	}

	// A session handed off to a room is closed by the room's finish path.
	if inRoom := sess.run(ctx); !inRoom {
		conn.Close()
		logger.Debug().Msg("connection closed")
	}
}
