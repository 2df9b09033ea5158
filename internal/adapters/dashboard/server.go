// Package dashboard sirve el read model del paper trader por HTTP y un
// stream websocket con las alertas en vivo. Solo lectura: ningún endpoint
// modifica el estado del bot.
package dashboard

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alejandrodnm/settlebot/internal/domain"
	"github.com/alejandrodnm/settlebot/internal/ports"
)

const (
	defaultTradesLimit = 50
	maxTradesLimit     = 500

	settledFilter = "SETTLED"
)

// Config del servidor HTTP. Params se publica tal cual en /api/config.
type Config struct {
	Addr        string
	CORSOrigins []string
	Params      Params
}

// Params son los parámetros efectivos de la estrategia.
type Params struct {
	Category       string
	MinPrice       float64
	MaxPrice       float64
	WindowMin      time.Duration
	WindowMax      time.Duration
	MaxPositions   int
	CapitalSplit   float64
	ScanInterval   time.Duration
	InitialBalance float64
}

// Server es el servidor HTTP + websocket del dashboard.
type Server struct {
	httpServer *http.Server
	reader     ports.StatusReader
	hub        *Hub
	params     Params
	now        func() time.Time
}

// NewServer registra las rutas sobre un ServeMux. hub puede ser nil.
func NewServer(cfg Config, reader ports.StatusReader, hub *Hub) *Server {
	s := &Server{reader: reader, hub: hub, params: cfg.Params, now: time.Now}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/pnl", s.handlePnL)
	mux.HandleFunc("GET /api/positions", s.handlePositions)
	mux.HandleFunc("GET /api/trades", s.handleTrades)
	mux.HandleFunc("GET /api/equity", s.handleEquity)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = logging(h)
	h = corsMiddleware(cfg.CORSOrigins)(h)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler expone el handler completo (tests).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start escucha hasta que se llame a Shutdown.
func (s *Server) Start() error {
	slog.Info("dashboard listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: listen: %w", err)
	}
	return nil
}

// Shutdown espera a las peticiones en curso dentro del deadline de ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("dashboard: shutdown: %w", err)
	}
	return nil
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.reader.Status()
	resp := map[string]any{
		"status":     "ok",
		"started_at": st.StartedAt,
		"ticks":      st.Ticks,
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toStatusDTO(s.reader.Status(), s.now()))
}

func (s *Server) handlePnL(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPnLDTO(s.reader.PnL()))
}

// GET /api/positions?status=OPEN|SETTLED|SETTLED_WIN|...
// "settled" agrupa todos los estados terminales.
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	raw := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("status")))
	switch raw {
	case "":
		writeJSON(w, http.StatusOK, toPositionDTOs(s.reader.Positions("")))
		return
	case settledFilter:
		all := s.reader.Positions("")
		terminal := make([]domain.Position, 0, len(all))
		for _, p := range all {
			if p.Status.Terminal() {
				terminal = append(terminal, p)
			}
		}
		writeJSON(w, http.StatusOK, toPositionDTOs(terminal))
		return
	}

	st, ok := domain.ParseStatus(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", r.URL.Query().Get("status")))
		return
	}
	writeJSON(w, http.StatusOK, toPositionDTOs(s.reader.Positions(st)))
}

// GET /api/trades?limit=50
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}
	writeJSON(w, http.StatusOK, toPositionDTOs(s.reader.Trades(limit)))
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toEquityDTOs(s.reader.EquityCurve()))
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toConfigDTO(s.params))
}

// --- helpers ---

// writeJSON serializa v; si falla devuelve un 500 en texto plano.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("dashboard: marshal response", "err", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// logging registra cada petición a nivel debug.
func logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"duration", time.Since(start),
		)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack permite el upgrade a websocket a través del middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return h.Hijack()
}

// corsMiddleware permite los orígenes dados; sin lista, todos.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				allowed := len(allowedOrigins) == 0
				for _, o := range allowedOrigins {
					if o == "*" || strings.EqualFold(o, origin) {
						allowed = true
						break
					}
				}
				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
					w.Header().Set("Access-Control-Max-Age", "86400")
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
