// Package calendar writes conversation events into one Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"go.uber.org/zap"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/matheus3301/wppcal/internal/retry"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

// MaxPageSize is the largest page the events.list endpoint serves.
const MaxPageSize = 2500

const statusCancelled = "cancelled"

// Invalidator is implemented by token sources that can drop their cached
// token so the next call refreshes it.
type Invalidator interface {
	Invalidate()
}

// Sink is the target calendar. Safe for concurrent use.
type Sink struct {
	svc        *gcal.Service
	calendarID string
	policy     retry.Policy
	tokens     Invalidator
	log        *zap.Logger
}

// Options configures a Sink.
type Options struct {
	CalendarID string
	HTTPClient *http.Client
	// Endpoint overrides the API base URL, for tests.
	Endpoint string
	Policy   *retry.Policy
	// Tokens, when set, is invalidated once on a 401 before giving up.
	Tokens Invalidator
}

// NewSink builds a sink for opts.CalendarID.
func NewSink(ctx context.Context, opts Options, log *zap.Logger) (*Sink, error) {
	if opts.CalendarID == "" {
		return nil, syncerr.Newf(syncerr.ConfigError, "calendar.NewSink", "TARGET_CALENDAR_ID is required")
	}
	var clientOpts []option.ClientOption
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := gcal.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	s := &Sink{
		svc:        svc,
		calendarID: opts.CalendarID,
		policy:     retry.Default(),
		tokens:     opts.Tokens,
		log:        log,
	}
	if opts.Policy != nil {
		s.policy = *opts.Policy
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s, nil
}

// CalendarID returns the target calendar.
func (s *Sink) CalendarID() string { return s.calendarID }

// CreateEvent makes sure exactly one event carries p.Marker. An existing
// event with the marker overlapping [Start, End] is returned as is. New
// events use the marker as their id, so a racing create fails with 409 and
// resolves to the event that won. created reports whether this call made it.
// A marker whose event was deleted in the calendar yields Tombstoned.
func (s *Sink) CreateEvent(ctx context.Context, p Payload) (ev Event, created bool, err error) {
	existing, err := s.findByMarker(ctx, p.Marker, p.Start, p.End)
	if err != nil {
		return Event{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	body := &gcal.Event{
		Id:           p.Marker,
		Summary:      p.Title,
		Description:  p.Description,
		Start:        &gcal.EventDateTime{DateTime: p.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:          &gcal.EventDateTime{DateTime: p.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		Transparency: "transparent",
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				PropMarker:   p.Marker,
				PropChat:     p.ChatID,
				PropCategory: p.Category,
			},
		},
	}
	inserted, err := retry.Do(ctx, s.policy, s.log, "calendar.insert", func(ctx context.Context, attempt int) retry.Result[*gcal.Event] {
		out, err := s.svc.Events.Insert(s.calendarID, body).Context(ctx).Do()
		if err != nil {
			if isStatus(err, http.StatusConflict) {
				return retry.Ok[*gcal.Event](nil)
			}
			return classify[*gcal.Event](s, ctx, "calendar.insert", attempt, err)
		}
		return retry.Ok(out)
	})
	if err != nil {
		return Event{}, false, err
	}
	if inserted != nil {
		return fromAPI(inserted), true, nil
	}

	s.log.Debug("create raced, reading winner", zap.String("marker", p.Marker), zap.String("error_kind", string(syncerr.SinkConflict)))
	winner, err := s.get(ctx, p.Marker)
	if err != nil {
		return Event{}, false, err
	}
	if winner.Status == statusCancelled {
		return Event{}, false, &syncerr.Error{
			Kind:   syncerr.Tombstoned,
			Op:     "calendar.insert",
			ChatID: p.ChatID,
			Err:    fmt.Errorf("event %s was deleted in the calendar", p.Marker),
		}
	}
	return fromAPI(winner), false, nil
}

func (s *Sink) findByMarker(ctx context.Context, marker string, start, end time.Time) (*Event, error) {
	events, err := s.list(ctx, start, end, PropMarker+"="+marker, 0)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.Marker == marker && e.Status != statusCancelled {
			return &e, nil
		}
	}
	return nil, nil
}

func (s *Sink) get(ctx context.Context, id string) (*gcal.Event, error) {
	return retry.Do(ctx, s.policy, s.log, "calendar.get", func(ctx context.Context, attempt int) retry.Result[*gcal.Event] {
		out, err := s.svc.Events.Get(s.calendarID, id).Context(ctx).Do()
		if err != nil {
			return classify[*gcal.Event](s, ctx, "calendar.get", attempt, err)
		}
		return retry.Ok(out)
	})
}

// ListEvents returns events overlapping [min, max]. Zero times leave that
// side open. Pages are fetched at the maximum page size.
func (s *Sink) ListEvents(ctx context.Context, min, max time.Time) ([]Event, error) {
	return s.list(ctx, min, max, "", MaxPageSize)
}

// ListMarked returns only events this service created.
func (s *Sink) ListMarked(ctx context.Context, min, max time.Time) ([]Event, error) {
	events, err := s.ListEvents(ctx, min, max)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(events, func(e Event) bool { return e.Marker == "" }), nil
}

func (s *Sink) list(ctx context.Context, min, max time.Time, privateProp string, pageSize int64) ([]Event, error) {
	if pageSize <= 0 {
		pageSize = MaxPageSize
	}
	var out []Event
	pageToken := ""
	for {
		page, err := retry.Do(ctx, s.policy, s.log, "calendar.list", func(ctx context.Context, attempt int) retry.Result[*gcal.Events] {
			call := s.svc.Events.List(s.calendarID).
				SingleEvents(true).
				MaxResults(pageSize).
				Context(ctx)
			if !min.IsZero() {
				call = call.TimeMin(min.UTC().Format(time.RFC3339))
			}
			if !max.IsZero() {
				call = call.TimeMax(max.UTC().Format(time.RFC3339))
			}
			if privateProp != "" {
				call = call.PrivateExtendedProperty(privateProp)
			}
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			res, err := call.Do()
			if err != nil {
				return classify[*gcal.Events](s, ctx, "calendar.list", attempt, err)
			}
			return retry.Ok(res)
		})
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			out = append(out, fromAPI(item))
		}
		if page.NextPageToken == "" {
			return out, nil
		}
		pageToken = page.NextPageToken
	}
}

// DeleteEvent removes an event. An event that is already gone is not an error.
func (s *Sink) DeleteEvent(ctx context.Context, id string) error {
	_, err := retry.Do(ctx, s.policy, s.log, "calendar.delete", func(ctx context.Context, attempt int) retry.Result[struct{}] {
		err := s.svc.Events.Delete(s.calendarID, id).Context(ctx).Do()
		if err != nil && !isStatus(err, http.StatusNotFound) && !isStatus(err, http.StatusGone) {
			return classify[struct{}](s, ctx, "calendar.delete", attempt, err)
		}
		return retry.Ok(struct{}{})
	})
	return err
}

// RestoreEvent brings a deleted event back by marking it confirmed again.
// Event ids of deleted events stay reserved, so this is the only way to
// recreate one. A missing event is not an error.
func (s *Sink) RestoreEvent(ctx context.Context, id string) error {
	_, err := retry.Do(ctx, s.policy, s.log, "calendar.restore", func(ctx context.Context, attempt int) retry.Result[struct{}] {
		_, err := s.svc.Events.Patch(s.calendarID, id, &gcal.Event{Status: "confirmed"}).Context(ctx).Do()
		if err != nil && !isStatus(err, http.StatusNotFound) && !isStatus(err, http.StatusGone) {
			return classify[struct{}](s, ctx, "calendar.restore", attempt, err)
		}
		return retry.Ok(struct{}{})
	})
	return err
}

var rateLimitReasons = []string{"rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded"}

// classify maps an API error onto a retry outcome. The first 401 drops the
// cached token and retries; a later one is fatal.
func classify[T any](s *Sink, ctx context.Context, op string, attempt int, err error) retry.Result[T] {
	if ctx.Err() != nil {
		return retry.Stop[T](ctx.Err())
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return retry.Again[T](syncerr.New(syncerr.UpstreamUnavailable, op, err), 0)
	}

	switch code := apiErr.Code; {
	case code == http.StatusUnauthorized:
		if attempt == 1 && s.tokens != nil {
			s.tokens.Invalidate()
			return retry.Again[T](syncerr.New(syncerr.UpstreamUnauthorized, op, err), 0)
		}
		return retry.Stop[T](syncerr.New(syncerr.UpstreamUnauthorized, op, err))
	case code == http.StatusForbidden:
		for _, item := range apiErr.Errors {
			if slices.Contains(rateLimitReasons, item.Reason) {
				return retry.Again[T](syncerr.New(syncerr.UpstreamUnavailable, op, err), retry.RetryAfter(apiErr.Header, time.Now()))
			}
		}
		return retry.Stop[T](syncerr.New(syncerr.UpstreamUnauthorized, op, err))
	case retry.FromStatus(code) == retry.Retryable:
		return retry.Again[T](syncerr.New(syncerr.UpstreamUnavailable, op, err), retry.RetryAfter(apiErr.Header, time.Now()))
	default:
		return retry.Stop[T](syncerr.New(syncerr.UpstreamMalformed, op, err))
	}
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func fromAPI(e *gcal.Event) Event {
	out := Event{
		ID:      e.Id,
		Title:   e.Summary,
		Status:  e.Status,
		HTMLURL: e.HtmlLink,
	}
	if e.ExtendedProperties != nil {
		out.Marker = e.ExtendedProperties.Private[PropMarker]
		out.ChatID = e.ExtendedProperties.Private[PropChat]
	}
	if e.Start != nil {
		out.Start = parseEventTime(e.Start)
	}
	if e.End != nil {
		out.End = parseEventTime(e.End)
	}
	return out
}

func parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t.UTC()
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse(time.DateOnly, dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
