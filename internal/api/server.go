// Package api serves the live feed, classification and reports over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rewired-gh/firewatch/internal/feed"
	"github.com/rewired-gh/firewatch/internal/metrics"
	"github.com/rewired-gh/firewatch/internal/models"
	"github.com/rewired-gh/firewatch/internal/report"
	"github.com/rewired-gh/firewatch/internal/risk"
)

const (
	streamBuffer     = 8
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	maxClassifyBody  = 1 << 16
)

// Server wires the HTTP routes to the feed and report service.
type Server struct {
	feed       *feed.Feed
	classifier *risk.Classifier
	reports    *report.Service
	metrics    *metrics.Metrics
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	now        func() time.Time
}

// NewServer creates a Server. reports and m may be nil; report routes then
// answer 503 and /metrics is not mounted.
func NewServer(f *feed.Feed, classifier *risk.Classifier, reports *report.Service, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		feed:       f,
		classifier: classifier,
		reports:    reports,
		metrics:    m,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		now: time.Now,
	}
}

// Router returns the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	s.handle(r, "/health", s.health, http.MethodGet)
	s.handle(r, "/api/v1/latest", s.latest, http.MethodGet)
	s.handle(r, "/api/v1/series", s.series, http.MethodGet)
	s.handle(r, "/api/v1/history", s.history, http.MethodGet)
	s.handle(r, "/api/v1/stream", s.stream, http.MethodGet)
	s.handle(r, "/api/v1/classify", s.classify, http.MethodPost)
	s.handle(r, "/api/v1/reports", s.report, http.MethodGet)
	s.handle(r, "/api/v1/reports/export", s.export, http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Handler wraps the router with CORS, panic recovery and, when accessLog is
// non-nil, a combined-format access log.
func (s *Server) Handler(accessLog io.Writer) http.Handler {
	var h http.Handler = s.Router()
	h = handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(zap.NewStdLog(s.logger)),
		handlers.PrintRecoveryStack(true),
	)(h)
	if accessLog != nil {
		h = handlers.CombinedLoggingHandler(accessLog, h)
	}
	return h
}

func (s *Server) handle(r *mux.Router, path string, fn http.HandlerFunc, methods ...string) {
	r.Handle(path, s.metrics.WrapHandler(path, fn)).Methods(methods...)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	body := map[string]interface{}{"status": "ok"}
	if st, ok := s.feed.Latest(); ok {
		body["last_update"] = st.LastUpdate
		body["level"] = st.Level()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) latest(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.feed.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no reading yet")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) series(w http.ResponseWriter, _ *http.Request) {
	st, ok := s.feed.Latest()
	if !ok || st.Series == nil {
		writeJSON(w, http.StatusOK, []models.ChartPoint{})
		return
	}
	writeJSON(w, http.StatusOK, st.Series)
}

func (s *Server) history(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.feed.History())
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request) {
	var reading models.Reading
	dec := json.NewDecoder(io.LimitReader(r.Body, maxClassifyBody))
	if err := dec.Decode(&reading); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid reading: %v", err))
		return
	}
	if reading.Timestamp.IsZero() {
		reading.Timestamp = s.now()
	}
	if err := reading.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid reading: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, s.classifier.Assess(reading))
}

func (s *Server) report(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.buildReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatJSON
	}
	if format != report.FormatJSON && format != report.FormatXLSX {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown export format %q (want json or xlsx)", format))
		return
	}

	rep, ok := s.buildReport(w, r)
	if !ok {
		return
	}

	var (
		data        []byte
		err         error
		contentType string
	)
	switch format {
	case report.FormatXLSX:
		data, err = report.ExportXLSX(rep)
		contentType = report.ContentTypeXLSX
	default:
		data, err = report.ExportJSON(rep)
		contentType = report.ContentTypeJSON
	}
	if err != nil {
		s.logger.Error("Failed to export report", zap.String("format", format), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export report")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.FileName(rep.GeneratedAt, format)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Warn("Failed to write export", zap.Error(err))
	}
}

// buildReport parses period, from and to and builds the report. It writes the
// error response itself and returns false on failure.
func (s *Server) buildReport(w http.ResponseWriter, r *http.Request) (report.Report, bool) {
	if s.reports == nil {
		writeError(w, http.StatusServiceUnavailable, "reports are not configured")
		return report.Report{}, false
	}

	q := r.URL.Query()
	period, err := report.ParsePeriod(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return report.Report{}, false
	}

	rng, err := report.ParseRange(q.Get("from"), q.Get("to"), period, s.reports.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return report.Report{}, false
	}
	return s.reports.Build(r.Context(), period, rng), true
}

func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := s.feed.Subscribe(streamBuffer)
	defer cancel()

	// Reads only serve control frames; a read error means the client left.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if st, ok := s.feed.Latest(); ok {
		if err := s.writeState(conn, st); err != nil {
			return
		}
	}

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := s.writeState(conn, st); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeState(conn *websocket.Conn, st feed.State) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(st); err != nil {
		if !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("Stream write failed", zap.Error(err))
		}
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
