package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// NewRouter builds the HTTP surface over the same service. Every route but
// /healthz goes through authMW.
func NewRouter(s *ControlService, authMW mux.MiddlewareFunc) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	if authMW != nil {
		v1.Use(authMW)
	}
	v1.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.Stats(r.Context(), &StatsRequest{})
		reply(w, resp, err)
	}).Methods(http.MethodGet)
	v1.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.Logs(r.Context(), &LogsRequest{Since: r.URL.Query().Get("since")})
		reply(w, resp, err)
	}).Methods(http.MethodGet)
	v1.HandleFunc("/chats", func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.Chats(r.Context(), &ChatsRequest{InScopeOnly: r.URL.Query().Get("in_scope") == "true"})
		reply(w, resp, err)
	}).Methods(http.MethodGet)
	v1.HandleFunc("/sync-chat", withBody(s.SyncChat)).Methods(http.MethodPost)
	v1.HandleFunc("/sync-all", withBody(s.SyncAll)).Methods(http.MethodPost)
	v1.HandleFunc("/mark", withBody(s.Mark)).Methods(http.MethodPost)
	v1.HandleFunc("/cancel", func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.Cancel(r.Context(), &CancelRequest{})
		reply(w, resp, err)
	}).Methods(http.MethodPost)
	return r
}

func withBody[Req, Resp any](call func(context.Context, *Req) (*Resp, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := new(Req)
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"code": "bad_request", "message": "invalid JSON body"})
			return
		}
		resp, err := call(r.Context(), req)
		reply(w, resp, err)
	}
}

// reply writes resp, or err mapped from its gRPC code.
func reply(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		st := grpcstatus.Convert(err)
		writeJSON(w, httpStatus(st.Code()), map[string]string{"code": st.Code().String(), "message": st.Message()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func httpStatus(c codes.Code) int {
	switch c {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Aborted:
		return http.StatusConflict
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// HTTPServer serves the router on a TCP address.
type HTTPServer struct {
	srv      *http.Server
	listener net.Listener
	logger   *zap.Logger
}

// NewHTTPServer binds addr. Use "127.0.0.1:0" for an ephemeral port.
func NewHTTPServer(addr string, h http.Handler, logger *zap.Logger) (*HTTPServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &HTTPServer{
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
		logger:   logger,
	}, nil
}

// Addr returns the bound address.
func (s *HTTPServer) Addr() string { return s.listener.Addr().String() }

// Start serves until Stop. Blocks.
func (s *HTTPServer) Start() error {
	s.logger.Info("HTTP control server starting", zap.String("addr", s.Addr()))
	if err := s.srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("HTTP control server stopping")
	return s.srv.Shutdown(ctx)
}
