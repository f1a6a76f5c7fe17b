package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/matheus3301/wppcal/internal/store"
)

func testGuard(t *testing.T) (*Guard, *store.DB) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewGuard(db, nil, "/healthz"), db
}

func TestIssueWritesTokenAndRevokesOld(t *testing.T) {
	g, db := testGuard(t)
	path := filepath.Join(t.TempDir(), "control.token")

	first, err := g.Issue(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	second, err := g.Issue(path, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("Issue() returned the same token twice")
	}

	got, err := ReadToken(path)
	if err != nil || got != second {
		t.Errorf("ReadToken() = %q, %v; want %q", got, err, second)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("token perms = %o, want 600", perm)
	}

	if aerr := g.Check(Bearer(first)); aerr == nil || aerr.Message != "token revoked" {
		t.Errorf("old token check = %v, want revoked", aerr)
	}
	if aerr := g.Check(Bearer(second)); aerr != nil {
		t.Errorf("new token rejected: %v", aerr)
	}
	sess, err := db.GetOperatorSession(second)
	if err != nil || sess.LastSeenAt == nil {
		t.Errorf("last seen not recorded: %+v, %v", sess, err)
	}
}

func TestCheckRejects(t *testing.T) {
	g, db := testGuard(t)
	if err := db.CreateOperatorSession("expired", ControlLabel, time.Now().Add(-time.Minute)); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"empty", "", "missing or invalid bearer token"},
		{"basic", "Basic abc", "missing or invalid bearer token"},
		{"blank bearer", "Bearer  ", "missing or invalid bearer token"},
		{"unknown", "Bearer nope", "unknown token"},
		{"expired", "Bearer expired", "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aerr := g.Check(tt.header)
			if aerr == nil || aerr.Message != tt.want || aerr.Status != http.StatusUnauthorized {
				t.Errorf("Check(%q) = %v, want %q", tt.header, aerr, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	g, _ := testGuard(t)
	token, err := g.Issue(filepath.Join(t.TempDir(), "tok"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		path   string
		header string
		want   int
	}{
		{"/healthz", "", http.StatusNoContent},
		{"/api/v1/stats", "", http.StatusUnauthorized},
		{"/api/v1/stats", "Bearer wrong", http.StatusUnauthorized},
		{"/api/v1/stats", Bearer(token), http.StatusNoContent},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s with %q = %d, want %d", tt.path, tt.header, rec.Code, tt.want)
		}
	}
}

func TestUnaryInterceptor(t *testing.T) {
	g, _ := testGuard(t)
	token, err := g.Issue(filepath.Join(t.TempDir(), "tok"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	intercept := g.UnaryInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/wppcal.Control/Stats"}
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	_, err = intercept(context.Background(), nil, info, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("no metadata: code = %v, want Unauthenticated", status.Code(err))
	}

	md, _ := PerRPC{Token: token}.GetRequestMetadata(context.Background())
	ctx := metadata.NewIncomingContext(context.Background(), metadata.New(md))
	resp, err := intercept(ctx, nil, info, handler)
	if err != nil || resp != "ok" {
		t.Errorf("valid token: %v, %v", resp, err)
	}
}
