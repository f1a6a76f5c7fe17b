// Package auth gates the control surfaces behind operator bearer tokens
// stored in the operator_sessions table.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/matheus3301/wppcal/internal/store"
)

// ControlLabel labels the session the daemon issues to local operator tools.
const ControlLabel = "control"

// MetadataKey is the gRPC metadata key carrying the bearer token.
const MetadataKey = "authorization"

// Error is a rejected credential.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

func unauthorized(msg string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: "unauthorized", Message: msg}
}

// Guard checks bearer tokens against the session store.
type Guard struct {
	db     *store.DB
	logger *zap.Logger
	now    func() time.Time
	// open paths skip the check on the HTTP surface.
	open map[string]bool
}

// NewGuard creates a guard. Requests to openPaths are not checked.
func NewGuard(db *store.DB, logger *zap.Logger, openPaths ...string) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{db: db, logger: logger, now: time.Now, open: make(map[string]bool)}
	for _, p := range openPaths {
		g.open[p] = true
	}
	return g
}

// Issue revokes earlier control sessions, creates a new one valid for ttl and
// writes its token to tokenPath, readable only by the owner.
func (g *Guard) Issue(tokenPath string, ttl time.Duration) (string, error) {
	if err := g.db.RevokeOperatorSessions(ControlLabel); err != nil {
		return "", fmt.Errorf("revoke old sessions: %w", err)
	}
	token := uuid.NewString()
	if err := g.db.CreateOperatorSession(token, ControlLabel, g.now().Add(ttl)); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0700); err != nil {
		return "", fmt.Errorf("create token dir: %w", err)
	}
	tmp := tokenPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(token+"\n"), 0600); err != nil {
		return "", fmt.Errorf("write token: %w", err)
	}
	if err := os.Rename(tmp, tokenPath); err != nil {
		return "", fmt.Errorf("write token: %w", err)
	}
	return token, nil
}

// ReadToken reads a token written by Issue.
func ReadToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read control token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Bearer formats a token for an Authorization header.
func Bearer(token string) string { return "Bearer " + token }

// Check validates a raw Authorization value.
func (g *Guard) Check(header string) *Error {
	if !strings.HasPrefix(header, "Bearer ") {
		return unauthorized("missing or invalid bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return unauthorized("missing or invalid bearer token")
	}
	sess, err := g.db.GetOperatorSession(token)
	if err != nil {
		g.logger.Error("session lookup failed", zap.Error(err))
		return &Error{Status: http.StatusInternalServerError, Code: "internal", Message: "session lookup failed"}
	}
	now := g.now()
	switch {
	case sess == nil:
		return unauthorized("unknown token")
	case sess.RevokedAt != nil:
		return unauthorized("token revoked")
	case !now.Before(sess.ExpiresAt):
		return unauthorized("token expired")
	}
	if err := g.db.TouchOperatorSession(token, now); err != nil {
		g.logger.Warn("failed to record session use", zap.Error(err))
	}
	return nil
}

// UnaryInterceptor rejects calls without a valid bearer token.
func (g *Guard) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := g.checkContext(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor rejects streams without a valid bearer token.
func (g *Guard) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := g.checkContext(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func (g *Guard) checkContext(ctx context.Context, method string) error {
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(MetadataKey); len(v) > 0 {
			header = v[0]
		}
	}
	aerr := g.Check(header)
	if aerr == nil {
		return nil
	}
	g.logger.Warn("rejected control call", zap.String("method", method), zap.String("reason", aerr.Message))
	code := codes.Unauthenticated
	if aerr.Status == http.StatusInternalServerError {
		code = codes.Internal
	}
	return status.Error(code, aerr.Message)
}

// Middleware rejects HTTP requests without a valid bearer token.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.open[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if aerr := g.Check(r.Header.Get("Authorization")); aerr != nil {
			g.logger.Warn("rejected control request", zap.String("path", r.URL.Path), zap.String("reason", aerr.Message))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(aerr.Status)
			_ = json.NewEncoder(w).Encode(aerr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PerRPC attaches a bearer token to every outgoing gRPC call.
type PerRPC struct {
	Token string
}

func (p PerRPC) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{MetadataKey: Bearer(p.Token)}, nil
}

// RequireTransportSecurity is false: the control socket is a local unix socket.
func (p PerRPC) RequireTransportSecurity() bool { return false }
