package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/robbyt/go-supervisor/supervisor"
	"golang.org/x/net/netutil"

	"i4.energy/across/modemchat/modem"
)

// Queue accepts outgoing messages. *Gateway implements it.
type Queue interface {
	Enqueue(id, to, message string) (string, error)
	Status(id string) (Job, bool)
	Pending() int
}

// Device exposes the modem state served over HTTP. *modem.Modem
// implements it.
type Device interface {
	Info() modem.Info
	Registration() modem.RegistrationStatus
	SignalQuality(ctx context.Context) (int, error)
	ListSMS(ctx context.Context, status string) ([]modem.SMS, error)
}

// Server handles incoming HTTP requests for interacting with the
// configured modem instance
type Server struct {
	Logger *slog.Logger
	Queue  Queue
	Modem  Device
	// Token enables bearer token authentication when set. /healthz is
	// always open.
	Token string

	once sync.Once
	mux  *http.ServeMux
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.once.Do(func() {
		s.mux = http.NewServeMux()
		s.mux.HandleFunc("GET /healthz", s.handleHealth)
		s.mux.HandleFunc("POST /sms", s.authorized(s.handleSend))
		s.mux.HandleFunc("GET /sms", s.authorized(s.handleList))
		s.mux.HandleFunc("GET /sms/{id}", s.authorized(s.handleStatus))
		s.mux.HandleFunc("GET /signal", s.authorized(s.handleSignal))
	})
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
				s.sendError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	s.sendJSON(w, ErrorResponse{Message: message}, statusCode)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleSend queues a message for delivery
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	type SMSRequest struct {
		ID      string `json:"id"`
		To      string `json:"to"`
		Message string `json:"message"`
	}

	var req SMSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	id, err := s.Queue.Enqueue(req.ID, req.To, req.Message)
	switch {
	case errors.Is(err, ErrInvalidRequest):
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrDuplicateJob):
		s.sendError(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrQueueFull):
		s.sendError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		s.Logger.Error("Failed to queue SMS", "error", err, "to", req.To)
		s.sendError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.Logger.Info("SMS queued", "id", id, "to", req.To, "message_length", len(req.Message))
	s.sendJSON(w, map[string]string{"status": string(JobQueued), "id": id}, http.StatusAccepted)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.Queue.Status(r.PathValue("id"))
	if !ok {
		s.sendError(w, "unknown job", http.StatusNotFound)
		return
	}
	s.sendJSON(w, job, http.StatusOK)
}

// handleList returns the messages stored on the modem, filtered by the
// optional status query parameter
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = modem.StatusAll
	}

	messages, err := s.Modem.ListSMS(r.Context(), status)
	if errors.Is(err, modem.ErrInvalidArgument) {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.Logger.Error("Failed to list SMS", "error", err, "status", status)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	}

	type Message struct {
		Index  int    `json:"index"`
		Status string `json:"status"`
		Sender string `json:"sender"`
		Time   string `json:"time"`
		Text   string `json:"text"`
	}
	resp := make([]Message, 0, len(messages))
	for _, m := range messages {
		resp = append(resp, Message(m))
	}
	s.sendJSON(w, resp, http.StatusOK)
}

func (s *Server) handleSignal(w http.ResponseWriter, r *http.Request) {
	type SignalResponse struct {
		RSSI         *int   `json:"rssi_dbm"`
		Registration string `json:"registration"`
		Registered   bool   `json:"registered"`
		Pending      int    `json:"pending"`
		IMEI         string `json:"imei,omitempty"`
		Model        string `json:"model,omitempty"`
	}

	reg := s.Modem.Registration()
	info := s.Modem.Info()
	resp := SignalResponse{
		Registration: reg.String(),
		Registered:   reg.IsRegistered(),
		Pending:      s.Queue.Pending(),
		IMEI:         info.IMEI,
		Model:        info.Model,
	}

	rssi, err := s.Modem.SignalQuality(r.Context())
	switch {
	case errors.Is(err, modem.ErrInvalidResponse):
		// signal not known or not detectable
	case err != nil:
		s.Logger.Error("Failed to query signal quality", "error", err)
		s.sendError(w, err.Error(), http.StatusBadGateway)
		return
	default:
		resp.RSSI = &rssi
	}
	s.sendJSON(w, resp, http.StatusOK)
}

// Interface guard: ensure httpRunner implements supervisor.Runnable
var _ supervisor.Runnable = (*httpRunner)(nil)

// maxConnections bounds the concurrent HTTP connections. Every request
// ends up waiting on the one modem.
const maxConnections = 32

// httpRunner serves a handler until its context is cancelled.
type httpRunner struct {
	logger *slog.Logger
	server *http.Server
}

func newHTTPRunner(logger *slog.Logger, addr string, handler http.Handler) *httpRunner {
	return &httpRunner{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (h *httpRunner) String() string {
	return "HTTPServer"
}

// Run implements the Runnable interface
func (h *httpRunner) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("Starting HTTP server", "address", ln.Addr().String(), "max_connections", maxConnections)
		errCh <- h.server.Serve(netutil.LimitListener(ln, maxConnections))
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		h.Stop()
		return nil
	}
}

// Stop implements the Runnable interface
func (h *httpRunner) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	h.logger.Info("Closing HTTP server")
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Error("Failed to gracefully shutdown server", "error", err)
	}
}
