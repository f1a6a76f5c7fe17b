// Package sync drives chats from the gateway through the message store and
// sessionizer into calendar events.
package sync

import (
	"context"
	"errors"
	"fmt"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/bus"
	"github.com/matheus3301/wppcal/internal/calendar"
	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/lock"
	"github.com/matheus3301/wppcal/internal/logging"
	"github.com/matheus3301/wppcal/internal/projector"
	"github.com/matheus3301/wppcal/internal/session"
	"github.com/matheus3301/wppcal/internal/status"
	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

// ErrRunInProgress is returned when a fleet run is requested while another
// one is still going.
var ErrRunInProgress = errors.New("a fleet sync is already running")

// ChatSource is the upstream chat gateway.
type ChatSource interface {
	ListChats(ctx context.Context) ([]store.Chat, error)
	FetchMessages(ctx context.Context, chatID string, from, to time.Time) ([]store.Message, error)
}

// CalendarSink is the target calendar.
type CalendarSink interface {
	CreateEvent(ctx context.Context, p calendar.Payload) (ev calendar.Event, created bool, err error)
	DeleteEvent(ctx context.Context, id string) error
	RestoreEvent(ctx context.Context, id string) error
	ListMarked(ctx context.Context, min, max time.Time) ([]calendar.Event, error)
}

// tunables are the settings a config reload may swap while the daemon runs.
type tunables struct {
	params      session.Params
	projector   *projector.Projector
	parallelism int
	chunk       time.Duration
	maxMessages int
}

func tunablesFrom(cfg *config.Config) tunables {
	return tunables{
		params:      session.FromConfig(cfg.Session),
		projector:   projector.New(cfg.Projector),
		parallelism: max(1, min(cfg.Sync.MaxFleetParallelism, 4)),
		chunk:       time.Duration(max(1, min(cfg.Sync.ChunkDays, 7))) * 24 * time.Hour,
		maxMessages: cfg.Chat.MaxMessagesPerSync,
	}
}

// Coordinator runs chat and fleet syncs. Safe for concurrent use; at most one
// fleet run is active at a time and a chat is never synced twice at once.
type Coordinator struct {
	db     *store.DB
	source ChatSource
	sink   CalendarSink
	bus    *bus.Bus
	logger *zap.Logger

	locks   *lock.Keyed
	running atomic.Bool

	mu  stdsync.RWMutex
	cfg tunables
}

// NewCoordinator creates a coordinator.
func NewCoordinator(db *store.DB, source ChatSource, sink CalendarSink, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		db:     db,
		source: source,
		sink:   sink,
		bus:    b,
		logger: logger,
		locks:  lock.NewKeyed(),
		cfg:    tunablesFrom(cfg),
	}
}

// ApplyConfig swaps the session parameters, reject patterns and fleet limits.
// Runs already in progress keep the values they started with.
func (c *Coordinator) ApplyConfig(cfg *config.Config) {
	t := tunablesFrom(cfg)
	c.mu.Lock()
	c.cfg = t
	c.mu.Unlock()
	c.logger.Info("sync settings reloaded",
		zap.Int("gap_minutes", cfg.Session.GapMinutes),
		zap.Int("parallelism", t.parallelism))
}

func (c *Coordinator) tunables() tunables {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Running reports whether a fleet run is in progress.
func (c *Coordinator) Running() bool { return c.running.Load() }

// SyncChat syncs one chat over [from, to]. A chat that is not in scope is
// skipped without touching the gateway. The returned error is the one that
// failed the chat, if any; the report is filled in either way.
func (c *Coordinator) SyncChat(ctx context.Context, chatID string, from, to time.Time) (SyncReport, error) {
	if err := checkWindow(from, to); err != nil {
		return SyncReport{ChatID: chatID, Outcome: Failed, ErrorKind: syncerr.ConfigError, Error: err.Error()}, err
	}
	sel, err := c.db.GetSelection(chatID)
	if err != nil {
		err = syncerr.WithChat(fmt.Errorf("read selection: %w", err), chatID)
		return SyncReport{ChatID: chatID, Outcome: Failed, ErrorKind: syncerr.LocalStoreError, Error: err.Error()}, err
	}
	chat, err := c.db.GetChat(chatID)
	if err != nil {
		err = syncerr.WithChat(fmt.Errorf("read chat: %w", err), chatID)
		return SyncReport{ChatID: chatID, Outcome: Failed, ErrorKind: syncerr.LocalStoreError, Error: err.Error()}, err
	}
	return c.syncChat(ctx, uuid.NewString(), store.ScopedChat{Selection: *sel, Chat: chat}, from, to, c.tunables())
}

func (c *Coordinator) syncChat(ctx context.Context, runID string, sc store.ScopedChat, from, to time.Time, t tunables) (SyncReport, error) {
	chatID := sc.ChatID
	report := SyncReport{
		ChatID:      chatID,
		Name:        sc.Name(),
		Priority:    sc.Priority,
		Outcome:     Skipped,
		State:       status.Idle,
		WindowStart: from,
		WindowEnd:   to,
	}
	if sc.Chat != nil {
		report.Category = sc.Chat.Category
	}
	if !sc.InScope {
		c.logger.Debug("chat not in scope, skipping", zap.String("chat_id", chatID))
		return report, nil
	}

	unlock := c.locks.Lock(chatID)
	defer unlock()

	m := status.NewMachine(chatID, c.bus)
	err := c.runChat(ctx, m, sc, from, to, t, &report)
	report.State = m.Current()
	if err != nil {
		kind := syncerr.KindOf(err)
		report.Outcome = Failed
		report.ErrorKind = kind
		report.Error = syncerr.Summary(err)
		c.logger.Error("chat sync failed", append(logging.Chat(chatID, string(kind)),
			zap.String("state", string(report.State)),
			zap.Error(err))...)
	} else {
		report.Outcome = Synced
		c.logger.Info("chat synced", append(logging.Chat(chatID, ""),
			zap.Int("messages_fetched", report.MessagesFetched),
			zap.Int("sessions", report.Sessions),
			zap.Int("events_created", report.EventsCreated),
			zap.Int("sessions_skipped", report.SessionsSkipped))...)
	}
	c.recordChat(runID, report)
	c.bus.Emit(bus.KindChatDone, report)
	return report, err
}

// runChat walks one chat through the state machine. Any returned error is
// kinded and carries the chat id; m is left in the matching failure state.
func (c *Coordinator) runChat(ctx context.Context, m *status.Machine, sc store.ScopedChat, from, to time.Time, t tunables, report *SyncReport) error {
	chatID := sc.ChatID
	fail := func(err error) error {
		err = syncerr.WithChat(err, chatID)
		m.Fail(syncerr.KindOf(err).Fatal() || syncerr.Is(err, syncerr.LocalStoreError))
		return err
	}

	for _, chunk := range Chunks(from, to, t.chunk) {
		if err := m.Transition(status.Fetching); err != nil {
			return fail(err)
		}
		msgs, err := c.source.FetchMessages(ctx, chatID, chunk.Start, chunk.End)
		switch {
		case syncerr.Is(err, syncerr.UpstreamMalformed):
			c.logger.Warn("skipping unreadable history chunk", append(logging.Chat(chatID, string(syncerr.UpstreamMalformed)),
				zap.Time("chunk_start", chunk.Start), zap.Error(err))...)
			msgs = nil
		case err != nil:
			return fail(err)
		}

		if err := m.Transition(status.Storing); err != nil {
			return fail(err)
		}
		msgs = c.ownMessages(chatID, msgs)
		stored, err := c.db.PutBatch(msgs)
		if err != nil {
			return fail(syncerr.New(syncerr.LocalStoreError, "store messages", err))
		}
		report.MessagesFetched += len(msgs)
		report.MessagesStored += stored

		if t.maxMessages > 0 && report.MessagesFetched >= t.maxMessages {
			c.logger.Warn("message cap reached, skipping remaining chunks", append(logging.Chat(chatID, ""),
				zap.Int("cap", t.maxMessages), zap.Time("chunk_end", chunk.End))...)
			break
		}
	}

	if err := m.Transition(status.Sessionizing); err != nil {
		return fail(err)
	}
	stored, err := c.db.RangeMessages(chatID, from, to)
	if err != nil {
		return fail(syncerr.New(syncerr.LocalStoreError, "read messages", err))
	}
	sessions := session.Build(chatID, stored, t.params, sc.Priority, session.Window{Start: from, End: to})
	report.Sessions = len(sessions)

	if err := m.Transition(status.Upserting); err != nil {
		return fail(err)
	}
	for _, sess := range sessions {
		if err := c.upsert(ctx, sc, sess, t, report); err != nil {
			return fail(err)
		}
	}
	return m.Transition(status.Done)
}

// ownMessages drops anything the gateway returned for another chat.
func (c *Coordinator) ownMessages(chatID string, msgs []store.Message) []store.Message {
	out := msgs[:0:0]
	for _, msg := range msgs {
		if msg.ChatID != chatID {
			c.logger.Warn("dropping message for another chat", append(logging.Chat(chatID, ""),
				zap.String("message_chat_id", msg.ChatID), zap.String("message_id", msg.ExternalID))...)
			continue
		}
		out = append(out, msg)
	}
	return out
}

// upsert makes sure the event for sess exists, unless it was deleted on
// purpose. Sessions the projector rejects are counted and skipped.
func (c *Coordinator) upsert(ctx context.Context, sc store.ScopedChat, sess session.Session, t tunables, report *SyncReport) error {
	payload, err := t.projector.Project(sc.Chat, sess, sc.Selection)
	if syncerr.Is(err, syncerr.MissingChat) {
		report.SessionsSkipped++
		c.logger.Warn("session skipped", append(logging.Chat(sc.ChatID, string(syncerr.MissingChat)),
			zap.Time("start", sess.Start), zap.Error(err))...)
		return nil
	}
	if err != nil {
		return err
	}

	tomb, err := c.db.IsTombstoned(payload.Marker)
	if err != nil {
		return syncerr.New(syncerr.LocalStoreError, "check tombstone", err)
	}
	if tomb {
		report.Tombstoned++
		return nil
	}
	known, err := c.db.GetEvent(payload.Marker)
	if err != nil {
		return syncerr.New(syncerr.LocalStoreError, "read ledger", err)
	}
	if known != nil {
		report.EventsExisting++
		return nil
	}

	ev, created, err := c.sink.CreateEvent(ctx, payload)
	if syncerr.Is(err, syncerr.Tombstoned) {
		report.Tombstoned++
		if err := c.db.TombstoneEvent(payload.Marker, sc.ChatID, "deleted in calendar"); err != nil {
			return syncerr.New(syncerr.LocalStoreError, "record tombstone", err)
		}
		c.logger.Info("event was deleted in the calendar, not recreating", append(logging.Chat(sc.ChatID, string(syncerr.Tombstoned)),
			zap.String("marker", payload.Marker))...)
		return nil
	}
	if err != nil {
		return err
	}

	if err := c.db.RecordEvent(&store.EventRecord{
		Marker:          payload.Marker,
		ChatID:          sc.ChatID,
		ExternalEventID: ev.ID,
		Start:           payload.Start,
		End:             payload.End,
		Title:           payload.Title,
	}); err != nil {
		return syncerr.New(syncerr.LocalStoreError, "record event", err)
	}
	if created {
		report.EventsCreated++
		c.bus.Emit(bus.KindEventCreated, ev)
	} else {
		report.EventsExisting++
	}
	return nil
}

func (c *Coordinator) recordChat(runID string, r SyncReport) {
	itemType := "chat"
	if kind, ok := store.KindOf(r.ChatID); ok {
		itemType = string(kind)
	}
	if err := c.db.RecordSyncStatus(&store.SyncStatus{
		RunID:           runID,
		ItemID:          r.ChatID,
		ItemType:        itemType,
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
		Success:         r.Outcome != Failed,
		MessagesFetched: r.MessagesFetched,
		EventsCreated:   r.EventsCreated,
		ErrorKind:       string(r.ErrorKind),
		ErrorSummary:    r.Error,
		FinalState:      string(r.State),
	}); err != nil {
		c.logger.Error("failed to record sync status", append(logging.Chat(r.ChatID, string(syncerr.LocalStoreError)), zap.Error(err))...)
	}
}

// SyncAllMarked refreshes the chat list, reconciles the ledger for the
// window and syncs every in-scope chat, highest priority first. A failing
// chat never stops the run; an unauthorized one does. Cancelling ctx stops
// the run between chats and returns what finished so far.
func (c *Coordinator) SyncAllMarked(ctx context.Context, from, to time.Time) (*FleetReport, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	if !c.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer c.running.Store(false)

	t := c.tunables()
	report := &FleetReport{
		RunID:       uuid.NewString(),
		WindowStart: from,
		WindowEnd:   to,
		StartedAt:   time.Now().UTC(),
	}
	c.bus.Emit(bus.KindFleetStarted, report.RunID)
	c.logger.Info("fleet sync started",
		zap.String("run_id", report.RunID),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("parallelism", t.parallelism))

	runErr := c.runFleet(ctx, report, t)
	if runErr != nil {
		report.Aborted = true
		report.AbortKind = syncerr.KindOf(runErr)
	}
	report.FinishedAt = time.Now().UTC()
	c.recordFleet(report)
	c.bus.Emit(bus.KindFleetDone, report)

	log := c.logger.Info
	if !report.OK() {
		log = c.logger.Warn
	}
	log("fleet sync finished",
		zap.String("run_id", report.RunID),
		zap.Int("success", report.SuccessCount),
		zap.Int("failed", report.FailureCount),
		zap.Int("skipped", report.SkippedCount),
		zap.Int("events_created", report.EventsCreated),
		zap.Bool("cancelled", report.Cancelled),
		zap.Bool("aborted", report.Aborted))
	return report, runErr
}

func (c *Coordinator) runFleet(ctx context.Context, report *FleetReport, t tunables) error {
	added, renamed, err := c.RefreshChats(ctx)
	report.ChatsAdded, report.ChatsRenamed = added, renamed
	if err != nil {
		if syncerr.KindOf(err).Fatal() {
			return err
		}
		c.logger.Warn("chat list refresh failed, using stored chats", zap.Error(err))
	}

	recorded, tombstoned, err := c.Reconcile(ctx, report.WindowStart, report.WindowEnd)
	report.LedgerRecorded, report.LedgerTombstoned = recorded, tombstoned
	if err != nil {
		if syncerr.KindOf(err).Fatal() {
			return err
		}
		c.logger.Warn("ledger reconcile failed", zap.Error(err))
	}

	scoped, err := c.db.ListInScope()
	if err != nil {
		return syncerr.New(syncerr.LocalStoreError, "list in-scope chats", err)
	}

	var (
		wg      stdsync.WaitGroup
		results = make([]*SyncReport, len(scoped))
		abort   atomic.Pointer[error]
		sem     = make(chan struct{}, t.parallelism)
	)
	// Chat work is not interrupted once started; only the loop watches ctx.
	work := context.WithoutCancel(ctx)

loop:
	for i, sc := range scoped {
		select {
		case <-ctx.Done():
			report.Cancelled = true
			break loop
		case sem <- struct{}{}:
		}
		if abort.Load() != nil {
			<-sem
			break
		}
		if ctx.Err() != nil {
			<-sem
			report.Cancelled = true
			break
		}
		wg.Add(1)
		go func(i int, sc store.ScopedChat) {
			defer wg.Done()
			defer func() { <-sem }()
			r, err := c.syncChat(work, report.RunID, sc, report.WindowStart, report.WindowEnd, t)
			results[i] = &r
			if syncerr.Is(err, syncerr.UpstreamUnauthorized) {
				abort.CompareAndSwap(nil, &err)
			}
		}(i, sc)
	}
	wg.Wait()

	for _, r := range results {
		if r != nil {
			report.add(*r)
		}
	}
	if p := abort.Load(); p != nil {
		c.logger.Error("fleet aborted: gateway or calendar rejected credentials", zap.Error(*p))
		return *p
	}
	if report.Cancelled {
		c.logger.Warn("fleet sync cancelled", zap.Int("finished", len(report.Chats)), zap.Int("in_scope", len(scoped)))
	}
	return nil
}

func (c *Coordinator) recordFleet(r *FleetReport) {
	summary := ""
	switch {
	case r.Aborted:
		summary = fmt.Sprintf("aborted: %s", r.AbortKind)
	case r.Cancelled:
		summary = "cancelled"
	case r.FailureCount > 0:
		summary = fmt.Sprintf("%d of %d chats failed", r.FailureCount, len(r.Chats))
	}
	if err := c.db.RecordSyncStatus(&store.SyncStatus{
		RunID:           r.RunID,
		ItemID:          r.RunID,
		ItemType:        "fleet",
		WindowStart:     r.WindowStart,
		WindowEnd:       r.WindowEnd,
		LastAttempt:     r.StartedAt,
		Success:         r.OK(),
		MessagesFetched: r.MessagesFetched,
		EventsCreated:   r.EventsCreated,
		ErrorKind:       string(r.AbortKind),
		ErrorSummary:    summary,
	}); err != nil {
		c.logger.Error("failed to record fleet status", zap.String("run_id", r.RunID), zap.Error(err))
	}
}

// RefreshChats pulls the chat list from the gateway into the store. Stored
// selections are untouched and clean names are never replaced by worse ones.
func (c *Coordinator) RefreshChats(ctx context.Context) (added, renamed int, err error) {
	chats, err := c.source.ListChats(ctx)
	if err != nil {
		return 0, 0, err
	}
	for i := range chats {
		change, err := c.db.UpsertChatFromGateway(&chats[i])
		if err != nil {
			return added, renamed, syncerr.New(syncerr.LocalStoreError, "store chat", err)
		}
		switch change {
		case store.ChatInserted:
			added++
		case store.ChatRenamed:
			renamed++
		}
	}
	c.logger.Info("chat list refreshed",
		zap.Int("reported", len(chats)),
		zap.Int("added", added),
		zap.Int("renamed", renamed))
	return added, renamed, nil
}

// DeleteEvent removes the event for marker from the calendar and tombstones
// the marker so later syncs leave it deleted.
func (c *Coordinator) DeleteEvent(ctx context.Context, marker string) error {
	if marker == "" {
		return syncerr.Newf(syncerr.ConfigError, "delete event", "marker is required")
	}
	rec, err := c.db.GetEvent(marker)
	if err != nil {
		return syncerr.New(syncerr.LocalStoreError, "read ledger", err)
	}
	id, chatID := marker, ""
	if rec != nil {
		id, chatID = rec.ExternalEventID, rec.ChatID
	}
	if err := c.sink.DeleteEvent(ctx, id); err != nil {
		return err
	}
	if err := c.db.TombstoneEvent(marker, chatID, "operator delete"); err != nil {
		return syncerr.New(syncerr.LocalStoreError, "record tombstone", err)
	}
	c.bus.Emit(bus.KindEventDeleted, marker)
	c.logger.Info("event deleted", zap.String("marker", marker), zap.String("chat_id", chatID))
	return nil
}

// ForgetTombstones undoes deletions for chatID, or for every chat when chatID
// is empty: each event is restored in the calendar and its tombstone dropped,
// so the next sync picks it up again. Returns how many were forgotten.
func (c *Coordinator) ForgetTombstones(ctx context.Context, chatID string) (int64, error) {
	tombs, err := c.db.ListTombstones(chatID)
	if err != nil {
		return 0, syncerr.New(syncerr.LocalStoreError, "list tombstones", err)
	}
	for _, tomb := range tombs {
		if err := c.sink.RestoreEvent(ctx, tomb.Marker); err != nil {
			return 0, syncerr.WithChat(err, tomb.ChatID)
		}
	}
	n, err := c.db.ForgetTombstones(chatID)
	if err != nil {
		return 0, syncerr.New(syncerr.LocalStoreError, "forget tombstones", err)
	}
	c.logger.Info("tombstones forgotten", zap.String("chat_id", chatID), zap.Int64("count", n))
	return n, nil
}

func checkWindow(from, to time.Time) error {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return syncerr.Newf(syncerr.ConfigError, "window", "invalid window %s..%s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	return nil
}
