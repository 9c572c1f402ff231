package health

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var _ interfaces.BlockObserver = (*Status)(nil)

type BlockStatus struct {
	Number uint64    `json:"number"`
	Hash   string    `json:"hash"`
	SeenAt time.Time `json:"seen_at"`
}

// Status tracks what the probes report.
type Status struct {
	ready    int32
	restarts atomic.Int64

	mu        sync.RWMutex
	lastBlock *BlockStatus
}

func NewStatus() *Status {
	return &Status{}
}

func (s *Status) SetReady(ready bool) {
	if ready {
		atomic.StoreInt32(&s.ready, 1)
	} else {
		atomic.StoreInt32(&s.ready, 0)
	}
}

func (s *Status) Ready() bool {
	return atomic.LoadInt32(&s.ready) == 1
}

// RecordRestart counts a supervisor restart.
func (s *Status) RecordRestart() {
	s.restarts.Add(1)
}

func (s *Status) OnNewBlock(_ context.Context, header models.BlockHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBlock = &BlockStatus{
		Number: header.Number,
		Hash:   header.Hash.Hex(),
		SeenAt: time.Now().UTC(),
	}
	return nil
}

func (s *Status) LastBlock() (BlockStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastBlock == nil {
		return BlockStatus{}, false
	}
	return *s.lastBlock, true
}

func (s *Status) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Status) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	block, seen := s.LastBlock()
	if !seen || !s.Ready() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Not Ready"))

		return
	}

	response := make(map[string]interface{})
	response["status"] = "Ready"
	response["last_block"] = block
	response["restarts"] = s.restarts.Load()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// Handler routes /healthz and /readyz. Callers may mount more routes on it.
func (s *Status) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.LivenessHandler)
	mux.HandleFunc("/readyz", s.ReadinessHandler)
	return mux
}

// Server serves the probes for as long as it is started.
type Server struct {
	srv    *http.Server
	logger *zerolog.Logger
	done   chan struct{}
}

func NewServer(addr string, handler http.Handler, logger *zerolog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) String() string {
	return "health server"
}

// Start binds the listener so that address errors surface here, then serves
// in the background.
func (s *Server) Start(context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str("addr", s.srv.Addr).Msg("Health server stopped")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Health server listening")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.done == nil {
		return nil
	}
	done := s.done
	s.done = nil

	err := s.srv.Shutdown(ctx)
	<-done
	return err
}
