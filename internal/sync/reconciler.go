package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/session"
	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

// Reconcile lines the local ledger up with the calendar for [from, to].
// Marked events the ledger does not know are recorded. Ledger rows starting
// in the window whose event is no longer in the calendar were deleted there
// by hand, so they are tombstoned.
func (c *Coordinator) Reconcile(ctx context.Context, from, to time.Time) (recorded, tombstoned int, err error) {
	// The calendar takes whole seconds and excludes events starting at the
	// upper bound, so ask past the last second the window covers.
	remote, err := c.sink.ListMarked(ctx, from, listBound(to))
	if err != nil {
		return 0, 0, err
	}
	local, err := c.db.ListEvents("")
	if err != nil {
		return 0, 0, syncerr.New(syncerr.LocalStoreError, "list ledger", err)
	}

	inCalendar := make(map[string]bool, len(remote))
	for _, ev := range remote {
		inCalendar[ev.Marker] = true
	}
	inLedger := make(map[string]bool, len(local))
	window := session.Window{Start: from, End: to}
	for _, rec := range local {
		inLedger[rec.Marker] = true
		if !window.Contains(rec.Start) || inCalendar[rec.Marker] {
			continue
		}
		if err := c.db.TombstoneEvent(rec.Marker, rec.ChatID, "missing from calendar"); err != nil {
			return recorded, tombstoned, syncerr.New(syncerr.LocalStoreError, "record tombstone", err)
		}
		tombstoned++
	}

	for _, ev := range remote {
		if inLedger[ev.Marker] {
			continue
		}
		if err := c.db.RecordEvent(&store.EventRecord{
			Marker:          ev.Marker,
			ChatID:          ev.ChatID,
			ExternalEventID: ev.ID,
			Start:           ev.Start,
			End:             ev.End,
			Title:           ev.Title,
		}); err != nil {
			return recorded, tombstoned, syncerr.New(syncerr.LocalStoreError, "record event", err)
		}
		recorded++
	}

	if recorded > 0 || tombstoned > 0 {
		c.logger.Info("ledger reconciled",
			zap.Int("recorded", recorded),
			zap.Int("tombstoned", tombstoned))
	}
	return recorded, tombstoned, nil
}

// listBound is the exclusive upper bound, in whole seconds, that still
// returns every event starting at or before t.
func listBound(t time.Time) time.Time {
	return t.Truncate(time.Second).Add(time.Second)
}

// Chunks splits [from, to] into consecutive windows no longer than size. The
// windows do not overlap and together cover the whole range.
func Chunks(from, to time.Time, size time.Duration) []session.Window {
	if size <= 0 || !to.After(from) {
		return []session.Window{{Start: from, End: to}}
	}
	var out []session.Window
	for start := from; !start.After(to); {
		end := start.Add(size - time.Nanosecond)
		if end.After(to) {
			end = to
		}
		out = append(out, session.Window{Start: start, End: end})
		start = end.Add(time.Nanosecond)
	}
	return out
}
