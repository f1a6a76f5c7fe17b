package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/wppcal/internal/auth"
	"github.com/matheus3301/wppcal/internal/bus"
	"github.com/matheus3301/wppcal/internal/scheduler"
	"github.com/matheus3301/wppcal/internal/store"
	wsync "github.com/matheus3301/wppcal/internal/sync"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

type fakeSyncer struct {
	mu        stdsync.Mutex
	chatCalls []string
	from, to  time.Time
	fleet     *wsync.FleetReport
	fleetErr  error
	deleted   []string
	running   bool
}

func (f *fakeSyncer) SyncChat(_ context.Context, chatID string, from, to time.Time) (wsync.SyncReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chatCalls = append(f.chatCalls, chatID)
	f.from, f.to = from, to
	if chatID == "bad@c.us" {
		err := syncerr.New(syncerr.UpstreamUnavailable, "fetch", nil)
		return wsync.SyncReport{ChatID: chatID, Outcome: wsync.Failed, ErrorKind: syncerr.UpstreamUnavailable}, err
	}
	return wsync.SyncReport{ChatID: chatID, Outcome: wsync.Synced, EventsCreated: 2}, nil
}

func (f *fakeSyncer) SyncAllMarked(_ context.Context, from, to time.Time) (*wsync.FleetReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.from, f.to = from, to
	return f.fleet, f.fleetErr
}

func (f *fakeSyncer) RefreshChats(context.Context) (int, int, error) { return 3, 1, nil }

func (f *fakeSyncer) DeleteEvent(_ context.Context, marker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, marker)
	return nil
}

func (f *fakeSyncer) ForgetTombstones(context.Context, string) (int64, error) { return 4, nil }

func (f *fakeSyncer) Running() bool { return f.running }

type fakeWeekly struct {
	summary *scheduler.WeeklySummary
	err     error
}

func (w *fakeWeekly) RunNow(context.Context) (*scheduler.WeeklySummary, error) { return w.summary, w.err }
func (w *fakeWeekly) Next() time.Time                                         { return time.Date(2026, 10, 17, 21, 0, 0, 0, time.UTC) }

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newService(t *testing.T) (*ControlService, *fakeSyncer, *store.DB, *bus.Bus) {
	t.Helper()
	db := testDB(t)
	syncer := &fakeSyncer{fleet: &wsync.FleetReport{RunID: "r1", SuccessCount: 1}}
	b := bus.New()
	s := NewControlService(db, syncer, &fakeWeekly{summary: &scheduler.WeeklySummary{}}, b, filepath.Join(t.TempDir(), "wppcal.log"), nil)
	s.loc = time.UTC
	return s, syncer, db, b
}

func ptr[T any](v T) *T { return &v }

func codeOf(err error) codes.Code { return grpcstatus.Code(err) }

func TestParseWindow(t *testing.T) {
	from, to, err := ParseWindow("2026-10-12", "2026-10-18", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if !from.Equal(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", from)
	}
	if !to.Equal(time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)) {
		t.Errorf("to = %v", to)
	}

	sp := time.FixedZone("BRT", -3*3600)
	from, _, err = ParseWindow("2026-10-12", "2026-10-12", sp)
	if err != nil {
		t.Fatal(err)
	}
	if from.Hour() != 3 || from.Location() != time.UTC {
		t.Errorf("local midnight should be 03:00 UTC, got %v", from)
	}

	for _, tc := range [][2]string{{"2026/10/12", "2026-10-13"}, {"2026-10-12", ""}, {"2026-10-13", "2026-10-12"}} {
		if _, _, err := ParseWindow(tc[0], tc[1], time.UTC); err == nil {
			t.Errorf("ParseWindow(%q, %q) should fail", tc[0], tc[1])
		}
	}
}

func TestSyncChatValidatesInput(t *testing.T) {
	s, syncer, _, _ := newService(t)
	ctx := context.Background()

	if _, err := s.SyncChat(ctx, &SyncChatRequest{From: "2026-10-12", To: "2026-10-12"}); codeOf(err) != codes.InvalidArgument {
		t.Errorf("missing chat: %v", err)
	}
	if _, err := s.SyncChat(ctx, &SyncChatRequest{ChatID: "a@c.us", From: "x", To: "2026-10-12"}); codeOf(err) != codes.InvalidArgument {
		t.Errorf("bad date: %v", err)
	}
	if len(syncer.chatCalls) != 0 {
		t.Fatalf("syncer called on invalid input: %v", syncer.chatCalls)
	}

	resp, err := s.SyncChat(ctx, &SyncChatRequest{ChatID: "a@c.us", From: "2026-10-12", To: "2026-10-12"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExitCode != wsync.ExitOK || resp.Report.EventsCreated != 2 {
		t.Errorf("resp = %+v", resp)
	}

	resp, err = s.SyncChat(ctx, &SyncChatRequest{ChatID: "bad@c.us", From: "2026-10-12", To: "2026-10-12"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExitCode != wsync.ExitPartial {
		t.Errorf("failed chat exit = %d, want %d", resp.ExitCode, wsync.ExitPartial)
	}
}

func TestSyncAllMapsErrors(t *testing.T) {
	s, syncer, _, _ := newService(t)
	ctx := context.Background()
	req := &SyncAllRequest{From: "2026-10-12", To: "2026-10-18"}

	resp, err := s.SyncAll(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExitCode != wsync.ExitOK || resp.Report.RunID != "r1" {
		t.Errorf("resp = %+v", resp)
	}

	syncer.fleet, syncer.fleetErr = nil, wsync.ErrRunInProgress
	if _, err := s.SyncAll(ctx, req); codeOf(err) != codes.Aborted {
		t.Errorf("in progress: %v", err)
	}

	syncer.fleet = &wsync.FleetReport{Aborted: true, AbortKind: syncerr.UpstreamUnauthorized}
	syncer.fleetErr = syncerr.New(syncerr.UpstreamUnauthorized, "list events", nil)
	resp, err = s.SyncAll(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExitCode != wsync.ExitConfig || resp.Error == "" {
		t.Errorf("aborted resp = %+v", resp)
	}
}

func TestMark(t *testing.T) {
	s, _, db, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  *MarkRequest
		code codes.Code
	}{
		{"no id", &MarkRequest{InScope: ptr(true)}, codes.InvalidArgument},
		{"not a chat id", &MarkRequest{ChatID: "someone", InScope: ptr(true)}, codes.InvalidArgument},
		{"priority too high", &MarkRequest{ChatID: "a@c.us", Priority: ptr(11)}, codes.InvalidArgument},
		{"priority zero", &MarkRequest{ChatID: "a@c.us", Priority: ptr(0)}, codes.InvalidArgument},
		{"tags need a known chat", &MarkRequest{ChatID: "a@c.us", Company: "Acme"}, codes.NotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := s.Mark(ctx, tc.req); codeOf(err) != tc.code {
				t.Errorf("code = %v, want %v (%v)", codeOf(err), tc.code, err)
			}
		})
	}

	resp, err := s.Mark(ctx, &MarkRequest{ChatID: "a@c.us", InScope: ptr(true), Priority: ptr(8)})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.InScope || resp.Priority != 8 || resp.Known {
		t.Errorf("early mark = %+v", resp)
	}

	if _, err := db.UpsertChatFromGateway(&store.Chat{ChatID: "a@c.us", Kind: store.KindContact, DisplayName: "Ana"}); err != nil {
		t.Fatal(err)
	}
	resp, err = s.Mark(ctx, &MarkRequest{ChatID: "a@c.us", Company: "Acme", Category: "client"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Known || !resp.InScope || resp.Priority != 8 {
		t.Errorf("tag-only mark changed selection: %+v", resp)
	}

	chats, err := s.Chats(ctx, &ChatsRequest{InScopeOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(chats.Chats) != 1 || chats.Chats[0].Company != "Acme" || chats.Chats[0].Category != "client" {
		t.Errorf("chats = %+v", chats.Chats)
	}
}

func TestStatsAndWeekly(t *testing.T) {
	s, syncer, _, _ := newService(t)
	ctx := context.Background()
	syncer.running = true

	st, err := s.Stats(ctx, &StatsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if !st.FleetRunning || st.NextWeeklyRun == nil {
		t.Errorf("stats = %+v", st)
	}

	resp, err := s.WeeklyRun(ctx, &WeeklyRunRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.ExitCode != wsync.ExitOK {
		t.Errorf("weekly exit = %d", resp.ExitCode)
	}

	s.weekly = nil
	if _, err := s.WeeklyRun(ctx, &WeeklyRunRequest{}); codeOf(err) != codes.FailedPrecondition {
		t.Errorf("disabled scheduler: %v", err)
	}
}

func TestLogsFiltersBySince(t *testing.T) {
	s, _, _, _ := newService(t)
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	lines := []string{
		`{"level":"info","ts":"2026-10-17T08:00:00.000Z","msg":"old"}`,
		`{"level":"info","ts":"2026-10-17T11:30:00.000Z","msg":"recent"}`,
	}
	if err := os.WriteFile(s.logPath, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	resp, err := s.Logs(context.Background(), &LogsRequest{Since: "1h"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Message != "recent" {
		t.Errorf("entries = %+v", resp.Entries)
	}
	if _, err := s.Logs(context.Background(), &LogsRequest{Since: "yesterday"}); codeOf(err) != codes.InvalidArgument {
		t.Errorf("bad since: %v", err)
	}
}

// serveGRPC starts the control service on a unix socket behind the guard and
// returns an authenticated client.
func serveGRPC(t *testing.T, s *ControlService, db *store.DB) (*Client, string) {
	t.Helper()
	// Short path: unix socket paths are limited to ~104 bytes on macOS.
	dir, err := os.MkdirTemp("/tmp", "wppcal-api-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	sock := filepath.Join(dir, "c.sock")

	guard := auth.NewGuard(db, nil)
	token, err := guard.Issue(filepath.Join(dir, "control.token"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(guard.UnaryInterceptor()),
		grpc.ChainStreamInterceptor(guard.StreamInterceptor()),
	)
	RegisterControlServer(srv, s)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(srv.Stop)

	c, err := Dial(sock, token)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, sock
}

func TestGRPCRoundTrip(t *testing.T) {
	s, syncer, db, _ := newService(t)
	c, _ := serveGRPC(t, s, db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := c.SyncChat(ctx, &SyncChatRequest{ChatID: "a@c.us", From: "2026-10-12", To: "2026-10-13"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Report.ChatID != "a@c.us" || resp.Report.Outcome != wsync.Synced {
		t.Errorf("report = %+v", resp.Report)
	}
	if !syncer.from.Equal(time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window start = %v", syncer.from)
	}

	refreshed, err := c.RefreshChats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if refreshed.Added != 3 || refreshed.Renamed != 1 {
		t.Errorf("refresh = %+v", refreshed)
	}

	del, err := c.DeleteEvent(ctx, &DeleteEventRequest{Marker: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	if !del.Tombstoned || len(syncer.deleted) != 1 {
		t.Errorf("delete = %+v, calls = %v", del, syncer.deleted)
	}

	forgot, err := c.ForgetTombstones(ctx, &ForgetTombstonesRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if forgot.Forgotten != 4 {
		t.Errorf("forgotten = %d", forgot.Forgotten)
	}

	if _, err := c.Mark(ctx, &MarkRequest{ChatID: "nope"}); codeOf(err) != codes.InvalidArgument {
		t.Errorf("status code did not survive the wire: %v", err)
	}
}

func TestGRPCRejectsBadToken(t *testing.T) {
	s, _, db, _ := newService(t)
	_, sock := serveGRPC(t, s, db)

	bad, err := Dial(sock, "not-a-token")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = bad.Close() }()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := bad.Stats(ctx); codeOf(err) != codes.Unauthenticated {
		t.Errorf("unary: %v", err)
	}
	err = bad.Watch(ctx, &WatchRequest{}, func(*Envelope) error { return nil })
	if codeOf(err) != codes.Unauthenticated {
		t.Errorf("stream: %v", err)
	}
}

func TestWatchStreamsMatchingEvents(t *testing.T) {
	s, _, db, b := newService(t)
	c, _ := serveGRPC(t, s, db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The subscription starts asynchronously, so keep emitting until the
	// first matching event arrives.
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				b.Emit(bus.KindConfigReload, nil)
				b.Emit(bus.KindEventCreated, map[string]string{"marker": "m1"})
			}
		}
	}()

	var got *Envelope
	stop := context.Canceled
	err := c.Watch(ctx, &WatchRequest{Prefixes: []string{"calendar."}}, func(e *Envelope) error {
		got = e
		return stop
	})
	if err != stop {
		t.Fatalf("watch err = %v", err)
	}
	if got.Kind != bus.KindEventCreated || got.ID == "" {
		t.Fatalf("envelope = %+v", got)
	}
	payload, ok := got.Payload.(map[string]any)
	if !ok || payload["marker"] != "m1" {
		t.Errorf("payload = %#v", got.Payload)
	}
}

func TestMatchesAny(t *testing.T) {
	if !matchesAny("sync.chat_done", nil) {
		t.Error("empty prefixes should match everything")
	}
	if !matchesAny("sync.chat_done", []string{"calendar.", "sync."}) {
		t.Error("sync. should match")
	}
	if matchesAny("config.reloaded", []string{"sync."}) {
		t.Error("config event should not match sync.")
	}
}

func TestHTTPRoutes(t *testing.T) {
	s, _, db, _ := newService(t)
	guard := auth.NewGuard(db, nil, "/healthz")
	token, err := guard.Issue(filepath.Join(t.TempDir(), "control.token"), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(NewRouter(s, guard.Middleware))
	defer srv.Close()

	do := func(method, path, body, tok string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		if tok != "" {
			req.Header.Set("Authorization", auth.Bearer(tok))
		}
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		token  string
		want   int
	}{
		{"health is open", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"stats needs token", http.MethodGet, "/api/v1/stats", "", "", http.StatusUnauthorized},
		{"stats", http.MethodGet, "/api/v1/stats", "", token, http.StatusOK},
		{"chats", http.MethodGet, "/api/v1/chats?in_scope=true", "", token, http.StatusOK},
		{"logs", http.MethodGet, "/api/v1/logs?since=2h", "", token, http.StatusOK},
		{"bad since", http.MethodGet, "/api/v1/logs?since=nope", "", token, http.StatusBadRequest},
		{"cancel with nothing running", http.MethodPost, "/api/v1/cancel", "", token, http.StatusOK},
		{"sync chat", http.MethodPost, "/api/v1/sync-chat", `{"chat_id":"a@c.us","from":"2026-10-12","to":"2026-10-12"}`, token, http.StatusOK},
		{"sync all", http.MethodPost, "/api/v1/sync-all", `{"from":"2026-10-12","to":"2026-10-18"}`, token, http.StatusOK},
		{"bad json", http.MethodPost, "/api/v1/mark", `{`, token, http.StatusBadRequest},
		{"mark unknown tags", http.MethodPost, "/api/v1/mark", `{"chat_id":"b@c.us","company":"Acme"}`, token, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/api/v1/sync-all", "", token, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(tc.method, tc.path, tc.body, tc.token)
			if resp.StatusCode != tc.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}

	resp := do(http.MethodPost, "/api/v1/sync-chat", `{"chat_id":"a@c.us","from":"2026-10-12","to":"2026-10-12"}`, token)
	var out SyncChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Report.EventsCreated != 2 {
		t.Errorf("decoded = %+v", out)
	}
}

func TestHTTPServerStartStop(t *testing.T) {
	s, _, _, _ := newService(t)
	hs, err := NewHTTPServer("127.0.0.1:0", NewRouter(s, nil), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() { done <- hs.Start() }()

	resp, err := http.Get("http://" + hs.Addr() + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := hs.Stop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Errorf("Start returned %v after Stop", err)
	}
}

// blockingSyncer runs a fleet until its context ends and then returns the
// partial report, the way the coordinator stops between chats.
type blockingSyncer struct {
	*fakeSyncer
	started chan struct{}
	stopped chan struct{}
}

func (b *blockingSyncer) SyncAllMarked(ctx context.Context, from, to time.Time) (*wsync.FleetReport, error) {
	close(b.started)
	<-ctx.Done()
	close(b.stopped)
	return &wsync.FleetReport{RunID: "r1", SuccessCount: 1, Cancelled: true}, nil
}

func newBlockingService(t *testing.T) (*ControlService, *blockingSyncer, *store.DB) {
	t.Helper()
	db := testDB(t)
	syncer := &blockingSyncer{
		fakeSyncer: &fakeSyncer{},
		started:    make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	s := NewControlService(db, syncer, nil, bus.New(), filepath.Join(t.TempDir(), "wppcal.log"), nil)
	s.loc = time.UTC
	return s, syncer, db
}

func TestCancelReturnsPartialReport(t *testing.T) {
	s, syncer, db := newBlockingService(t)
	c, _ := serveGRPC(t, s, db)

	type result struct {
		resp *SyncAllResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := c.SyncAll(context.Background(), &SyncAllRequest{From: "2026-10-12", To: "2026-10-18"})
		done <- result{resp, err}
	}()

	select {
	case <-syncer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("fleet never started")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cancelled, err := c.Cancel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cancelled.Runs != 1 {
		t.Errorf("runs cancelled = %d, want 1", cancelled.Runs)
	}

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("sync-all: %v", r.err)
		}
		if !r.resp.Report.Cancelled || r.resp.Report.SuccessCount != 1 {
			t.Errorf("report = %+v, want the partial cancelled report", r.resp.Report)
		}
		if r.resp.ExitCode != wsync.ExitPartial {
			t.Errorf("exit code = %d, want %d", r.resp.ExitCode, wsync.ExitPartial)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sync-all never answered after cancel")
	}

	again, err := c.Cancel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if again.Runs != 0 {
		t.Errorf("finished run still registered: %d", again.Runs)
	}
}

func TestCallerGoneStopsRun(t *testing.T) {
	s, syncer, db := newBlockingService(t)
	c, _ := serveGRPC(t, s, db)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.SyncAll(ctx, &SyncAllRequest{From: "2026-10-12", To: "2026-10-18"})
		errc <- err
	}()
	<-syncer.started
	cancel()

	select {
	case <-syncer.stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("run kept going after its caller left")
	}
	if err := <-errc; codeOf(err) != codes.Canceled {
		t.Errorf("err = %v, want Canceled", err)
	}
}
