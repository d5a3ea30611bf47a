// Package obshttp exposes a small internal observability endpoint: a
// health check, read-only debug views of the current auction and last
// competition result, and a websocket feed of settlement events. This is
// not the order-submission API surface; it is ambient operational
// tooling for local debugging.
package obshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/cowmesh/autopilot/pkg/domain/auction"
)

// CurrentAuctionSource reports whatever auction the builder most recently
// produced, for /debug/auction/current.
type CurrentAuctionSource interface {
	Current() (auction.Auction, bool)
}

// LastResultSource reports the most recent competition outcome, for
// /debug/competition/last.
type LastResultSource interface {
	LastResult() (winner string, score string, ok bool)
}

// SettlementFeed is the subset of settlement.Observer the websocket debug
// stream needs.
type SettlementFeed interface {
	Subscribe(conn *websocket.Conn)
	Unsubscribe(conn *websocket.Conn)
}

// Server is the internal debug HTTP endpoint.
type Server struct {
	log      *zap.Logger
	http     *http.Server
	upgrader websocket.Upgrader

	auctions SettlementFeed
}

// New builds a Server listening on addr, wiring the three debug routes and
// the /ws settlement feed.
func New(log *zap.Logger, addr string, auctionSource CurrentAuctionSource, resultSource LastResultSource, feed SettlementFeed) *Server {
	s := &Server{
		log:      log,
		auctions: feed,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/debug/auction/current", s.handleCurrentAuction(auctionSource)).Methods(http.MethodGet)
	router.HandleFunc("/debug/competition/last", s.handleLastResult(resultSource)).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebsocket)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}).Handler(router)

	s.http = &http.Server{Addr: addr, Handler: handler}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.http.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleCurrentAuction(source CurrentAuctionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		a, ok := source.Current()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a)
	}
}

func (s *Server) handleLastResult(source LastResultSource) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		winner, score, ok := source.LastResult()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"winner": winner, "score": score})
	}
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	s.auctions.Subscribe(conn)
	defer func() {
		s.auctions.Unsubscribe(conn)
		_ = conn.Close()
	}()

	// Drain incoming frames until the client disconnects; this endpoint is
	// broadcast-only, it never reads application data from the client.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
