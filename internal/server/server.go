// ABOUTME: Websocket relay service
// ABOUTME: Accepts decode and encode sessions and streams converted audio back
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/Resonate-Protocol/flacrelay/internal/discovery"
	"github.com/Resonate-Protocol/flacrelay/internal/protocol"
	"github.com/Resonate-Protocol/flacrelay/internal/version"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/encode"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer    = 64
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
)

// Config holds server configuration
type Config struct {
	Port       int
	Name       string
	EnableMDNS bool

	// Encode session settings
	CompressionLevel int
	BlockSize        int
	Verify           bool

	FinishTimeout time.Duration
}

// SessionInfo describes an active session
type SessionInfo struct {
	ID      string
	Mode    string
	Remote  string
	Started time.Time
}

// Server is the relay service
type Server struct {
	config   Config
	serverID string
	log      zerolog.Logger

	upgrader websocket.Upgrader
	mux      *http.ServeMux

	httpServer *http.Server
	addr       net.Addr
	ready      chan struct{}

	sessions   map[string]*SessionInfo
	sessionsMu sync.RWMutex

	mdnsManager *discovery.Manager

	stopChan   chan struct{}
	stopOnce   sync.Once
	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// New creates a new server instance
func New(config Config) *Server {
	if config.CompressionLevel == 0 && config.BlockSize == 0 {
		config.CompressionLevel = encode.DefaultCompressionLevel
	}

	s := &Server{
		config:   config,
		serverID: uuid.New().String(),
		mux:      http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Trusted local networks only
				return true
			},
		},
		sessions: make(map[string]*SessionInfo),
		ready:    make(chan struct{}),
		stopChan: make(chan struct{}),
	}
	s.log = log.With().Str("component", "server").Str("server_id", s.serverID).Logger()

	s.mux.HandleFunc("/decode", s.handleDecode)
	s.mux.HandleFunc("/encode", s.handleEncode)
	return s
}

// Handler returns the HTTP handler serving the websocket endpoints
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until Stop is called or the listener fails
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.addr = ln.Addr()
	close(s.ready)

	s.log.Info().Str("name", s.config.Name).Str("addr", s.addr.String()).Msg("relay server listening")

	if s.config.EnableMDNS {
		s.mdnsManager = discovery.NewManager(discovery.Config{
			ServiceName: s.config.Name,
			Port:        s.addr.(*net.TCPAddr).Port,
			Info: []string{
				"decode=/decode",
				"encode=/encode",
				"version=" + strconv.Itoa(protocol.Version),
				"product=" + version.Product + "/" + version.Version,
				"manufacturer=" + version.Manufacturer,
			},
		})
		if err := s.mdnsManager.Advertise(); err != nil {
			s.log.Warn().Err(err).Msg("failed to start mDNS advertisement")
			s.mdnsManager = nil
		}
	}

	s.httpServer = &http.Server{Handler: s.mux}

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var serverErr error
	select {
	case <-s.stopChan:
		s.log.Info().Msg("server shutting down")
	case err := <-errChan:
		s.log.Error().Err(err).Msg("http server error")
		serverErr = err
	}

	// Reject new sessions
	s.shutdownMu.Lock()
	s.isShutdown = true
	s.shutdownMu.Unlock()

	if s.mdnsManager != nil {
		s.mdnsManager.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("http server shutdown error")
	}

	s.wg.Wait()
	s.log.Info().Msg("server stopped cleanly")

	if serverErr != nil {
		return fmt.Errorf("HTTP server failed: %w", serverErr)
	}
	return nil
}

// Addr returns the listening address once Start has bound the port
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.addr
}

// Stop stops the server
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
}

// Sessions returns the active sessions
func (s *Server) Sessions() []SessionInfo {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()

	out := make([]SessionInfo, 0, len(s.sessions))
	for _, info := range s.sessions {
		out = append(out, *info)
	}
	return out
}

func (s *Server) accepting() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	return !s.isShutdown
}

func (s *Server) register(info *SessionInfo) {
	s.sessionsMu.Lock()
	s.sessions[info.ID] = info
	s.sessionsMu.Unlock()
	s.wg.Add(1)
}

func (s *Server) unregister(id string) {
	s.sessionsMu.Lock()
	delete(s.sessions, id)
	s.sessionsMu.Unlock()
	s.wg.Done()
}
