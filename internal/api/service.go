// Package api exposes the operator commands over gRPC on the profile's unix
// socket and over a small HTTP surface.
package api

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"

	"github.com/matheus3301/wppcal/internal/bus"
	"github.com/matheus3301/wppcal/internal/logging"
	"github.com/matheus3301/wppcal/internal/scheduler"
	"github.com/matheus3301/wppcal/internal/store"
	wsync "github.com/matheus3301/wppcal/internal/sync"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

// Syncer is the part of the sync coordinator the control surface drives.
type Syncer interface {
	SyncChat(ctx context.Context, chatID string, from, to time.Time) (wsync.SyncReport, error)
	SyncAllMarked(ctx context.Context, from, to time.Time) (*wsync.FleetReport, error)
	RefreshChats(ctx context.Context) (added, renamed int, err error)
	DeleteEvent(ctx context.Context, marker string) error
	ForgetTombstones(ctx context.Context, chatID string) (int64, error)
	Running() bool
}

// WeeklyRunner runs the weekly job on demand.
type WeeklyRunner interface {
	RunNow(ctx context.Context) (*scheduler.WeeklySummary, error)
	Next() time.Time
}

// ControlService implements the operator commands.
type ControlService struct {
	db      *store.DB
	syncer  Syncer
	weekly  WeeklyRunner
	bus     *bus.Bus
	logPath string
	loc     *time.Location
	logger  *zap.Logger
	now     func() time.Time
	runs    *runs
}

// NewControlService creates the service. weekly may be nil when the
// scheduler is disabled.
func NewControlService(db *store.DB, syncer Syncer, weekly WeeklyRunner, b *bus.Bus, logPath string, logger *zap.Logger) *ControlService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ControlService{
		db:      db,
		syncer:  syncer,
		weekly:  weekly,
		bus:     b,
		logPath: logPath,
		loc:     time.Local,
		logger:  logger,
		now:     time.Now,
		runs:    newRuns(),
	}
}

func (s *ControlService) SyncChat(ctx context.Context, req *SyncChatRequest) (*SyncChatResponse, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	from, to, err := ParseWindow(req.From, req.To, s.loc)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	runCtx, done := s.runs.start(ctx)
	defer done()
	report, err := s.syncer.SyncChat(runCtx, req.ChatID, from, to)
	if syncerr.Is(err, syncerr.ConfigError) {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	return &SyncChatResponse{Report: report, ExitCode: report.ExitCode()}, nil
}

func (s *ControlService) SyncAll(ctx context.Context, req *SyncAllRequest) (*SyncAllResponse, error) {
	from, to, err := ParseWindow(req.From, req.To, s.loc)
	if err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	runCtx, done := s.runs.start(ctx)
	defer done()
	report, err := s.syncer.SyncAllMarked(runCtx, from, to)
	if report == nil {
		return nil, statusFor(err)
	}
	resp := &SyncAllResponse{Report: report, ExitCode: wsync.ExitCode(report, err)}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

func (s *ControlService) Mark(_ context.Context, req *MarkRequest) (*MarkResponse, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat_id is required")
	}
	if _, ok := store.KindOf(req.ChatID); !ok {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "chat id %q is not a contact or group id", req.ChatID)
	}
	if req.Priority != nil && !store.ValidPriority(*req.Priority) {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "priority %d out of range 1..10", *req.Priority)
	}

	chat, err := s.db.GetChat(req.ChatID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "get chat: %v", err)
	}
	if req.Company != "" || req.Category != "" {
		if chat == nil {
			return nil, grpcstatus.Errorf(codes.NotFound, "chat %q not known yet, run refresh-chats first", req.ChatID)
		}
		if err := s.db.SetChatTags(req.ChatID, req.Company, req.Category); err != nil {
			return nil, grpcstatus.Errorf(codes.Internal, "set tags: %v", err)
		}
	}
	sel, err := s.db.SetSelection(req.ChatID, req.InScope, req.Priority)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "set selection: %v", err)
	}
	s.logger.Info("chat marked",
		zap.String("chat_id", sel.ChatID),
		zap.Bool("in_scope", sel.InScope),
		zap.Int("priority", sel.Priority),
		zap.Bool("known", chat != nil))
	return &MarkResponse{
		ChatID:    sel.ChatID,
		InScope:   sel.InScope,
		Priority:  sel.Priority,
		UpdatedAt: sel.UpdatedAt,
		Known:     chat != nil,
	}, nil
}

func (s *ControlService) Stats(_ context.Context, _ *StatsRequest) (*StatsResponse, error) {
	st, err := s.db.Stats()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "stats: %v", err)
	}
	resp := &StatsResponse{
		Stats:         *st,
		FleetRunning:  s.syncer.Running(),
		DroppedEvents: s.bus.Dropped(),
	}
	if s.weekly != nil {
		if next := s.weekly.Next(); !next.IsZero() {
			resp.NextWeeklyRun = &next
		}
	}
	return resp, nil
}

func (s *ControlService) Logs(_ context.Context, req *LogsRequest) (*LogsResponse, error) {
	var since time.Duration
	if req.Since != "" {
		d, err := time.ParseDuration(req.Since)
		if err != nil || d < 0 {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "since %q: want a duration like 2h", req.Since)
		}
		since = d
	}
	entries, err := logging.Tail(s.logPath, since, s.now())
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "read log: %v", err)
	}
	return &LogsResponse{Entries: entries}, nil
}

func (s *ControlService) Chats(_ context.Context, req *ChatsRequest) (*ChatsResponse, error) {
	listings, err := s.db.ListChats()
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list chats: %v", err)
	}
	resp := &ChatsResponse{Chats: make([]ChatView, 0, len(listings))}
	for _, l := range listings {
		if req.InScopeOnly && !l.InScope {
			continue
		}
		resp.Chats = append(resp.Chats, ChatView{
			ChatID:      l.ChatID,
			Kind:        string(l.Kind),
			DisplayName: l.DisplayName,
			Phone:       l.PhoneOrGroupID,
			Company:     l.Company,
			Category:    l.Category,
			CleanName:   l.DisplayNameIsClean,
			InScope:     l.InScope,
			Priority:    l.Priority,
		})
	}
	return resp, nil
}

func (s *ControlService) RefreshChats(ctx context.Context, _ *RefreshChatsRequest) (*RefreshChatsResponse, error) {
	added, renamed, err := s.syncer.RefreshChats(ctx)
	if err != nil {
		return nil, statusFor(err)
	}
	return &RefreshChatsResponse{Added: added, Renamed: renamed}, nil
}

func (s *ControlService) DeleteEvent(ctx context.Context, req *DeleteEventRequest) (*DeleteEventResponse, error) {
	if req.Marker == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "marker is required")
	}
	if err := s.syncer.DeleteEvent(ctx, req.Marker); err != nil {
		return nil, statusFor(err)
	}
	return &DeleteEventResponse{Marker: req.Marker, Tombstoned: true}, nil
}

func (s *ControlService) ForgetTombstones(ctx context.Context, req *ForgetTombstonesRequest) (*ForgetTombstonesResponse, error) {
	n, err := s.syncer.ForgetTombstones(ctx, req.ChatID)
	if err != nil {
		return nil, statusFor(err)
	}
	return &ForgetTombstonesResponse{Forgotten: n}, nil
}

func (s *ControlService) WeeklyRun(ctx context.Context, _ *WeeklyRunRequest) (*WeeklyRunResponse, error) {
	if s.weekly == nil {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "scheduler is disabled in this profile")
	}
	runCtx, done := s.runs.start(ctx)
	defer done()
	summary, err := s.weekly.RunNow(runCtx)
	if summary == nil {
		return nil, statusFor(err)
	}
	resp := &WeeklyRunResponse{Summary: summary, ExitCode: wsync.ExitOK}
	switch {
	case err != nil && syncerr.KindOf(err).Fatal():
		resp.ExitCode = wsync.ExitConfig
	case err != nil, summary.Totals.Failed > 0, summary.Cancelled, summary.Aborted:
		resp.ExitCode = wsync.ExitPartial
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp, nil
}

// Cancel stops the runs in progress. Each stops between chats and answers
// its own caller with the partial report.
func (s *ControlService) Cancel(_ context.Context, _ *CancelRequest) (*CancelResponse, error) {
	n := s.runs.cancelAll()
	s.logger.Info("run cancel requested", zap.Int("runs", n))
	return &CancelResponse{Runs: n}, nil
}

// Watch streams bus events whose kind starts with one of the requested
// prefixes until the client goes away.
func (s *ControlService) Watch(req *WatchRequest, send func(*Envelope) error, done <-chan struct{}) error {
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matchesAny(evt.Kind, req.Prefixes) {
				continue
			}
			if err := send(&Envelope{
				ID:         uuid.NewString(),
				Kind:       evt.Kind,
				OccurredAt: evt.Timestamp,
				Payload:    evt.Payload,
			}); err != nil {
				return err
			}
		case <-done:
			return nil
		}
	}
}

func matchesAny(kind string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(kind, p) {
			return true
		}
	}
	return false
}

// statusFor maps a sync error onto a gRPC status.
func statusFor(err error) error {
	if err == nil {
		return grpcstatus.Error(codes.Internal, "no result")
	}
	if errors.Is(err, wsync.ErrRunInProgress) {
		return grpcstatus.Error(codes.Aborted, err.Error())
	}
	switch syncerr.KindOf(err) {
	case syncerr.ConfigError:
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case syncerr.UpstreamUnauthorized:
		return grpcstatus.Error(codes.PermissionDenied, err.Error())
	case syncerr.UpstreamUnavailable:
		return grpcstatus.Error(codes.Unavailable, err.Error())
	default:
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
