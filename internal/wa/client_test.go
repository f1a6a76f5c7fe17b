package wa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/retry"
	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

// gateway is a fake GreenAPI instance.
type gateway struct {
	mu       sync.Mutex
	contacts string
	history  []map[string]any
	// status, when non-zero, is returned for the first failFor calls.
	status   int
	failFor  int
	calls    int
	counts   []int
	override func(count int) string
}

func (g *gateway) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.mu.Lock()
		defer g.mu.Unlock()
		g.calls++

		if !strings.HasPrefix(r.URL.Path, "/waInstance42/") || !strings.HasSuffix(r.URL.Path, "/tok") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if g.status != 0 && g.calls <= g.failFor {
			w.WriteHeader(g.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
			return
		}

		switch {
		case strings.Contains(r.URL.Path, "/getContacts/"):
			_, _ = w.Write([]byte(g.contacts))
		case strings.Contains(r.URL.Path, "/getChatHistory/"):
			var req struct {
				ChatID string `json:"chatId"`
				Count  int    `json:"count"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode request: %v", err)
			}
			g.counts = append(g.counts, req.Count)
			if g.override != nil {
				_, _ = w.Write([]byte(g.override(req.Count)))
				return
			}
			// Newest first, like the real gateway.
			n := min(req.Count, len(g.history))
			page := make([]map[string]any, 0, n)
			for i := len(g.history) - 1; i >= len(g.history)-n; i-- {
				page = append(page, g.history[i])
			}
			_ = json.NewEncoder(w).Encode(page)
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestClient(t *testing.T, g *gateway, pageSize, maxMessages int) *Client {
	t.Helper()
	srv := httptest.NewServer(g.handler(t))
	t.Cleanup(srv.Close)

	policy := retry.Default()
	policy.Sleep = func(context.Context, time.Duration) error { return nil }
	c, err := New(Options{
		APIURL:      srv.URL + "/",
		InstanceID:  "42",
		Token:       "tok",
		PageSize:    pageSize,
		MaxMessages: maxMessages,
		HTTPClient:  srv.Client(),
		Policy:      &policy,
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

var base = time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)

// minuteHistory builds n incoming messages one minute apart starting at base.
func minuteHistory(chatID string, n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"type":        "incoming",
			"idMessage":   fmt.Sprintf("ID%04d", i),
			"timestamp":   base.Add(time.Duration(i) * time.Minute).Unix(),
			"chatId":      chatID,
			"typeMessage": "textMessage",
			"textMessage": fmt.Sprintf("msg %d", i),
			"senderId":    chatID,
		}
	}
	return out
}

func TestListChatsKinds(t *testing.T) {
	g := &gateway{contacts: `[
		{"id":"972501@c.us","name":"Dana","contactName":"Dana Levi","type":"user"},
		{"id":"120363@g.us","name":"Family","type":"group"},
		{"id":"status@broadcast","name":"Status"},
		{"id":"972502@c.us","name":""},
		{"id":"972501@c.us","name":"dup"}
	]`}
	c := newTestClient(t, g, 100, 5000)

	chats, err := c.ListChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != 3 {
		t.Fatalf("got %d chats, want 3: %+v", len(chats), chats)
	}
	if chats[0].DisplayName != "Dana Levi" || chats[0].PhoneOrGroupID != "972501" {
		t.Errorf("first chat = %+v", chats[0])
	}
	if chats[1].Kind != store.KindGroup || chats[1].ChatID != "120363@g.us" {
		t.Errorf("second chat = %+v, want the group", chats[1])
	}
	if chats[2].Kind != store.KindContact || chats[2].DisplayName != "" {
		t.Errorf("third chat = %+v, want unnamed contact", chats[2])
	}
}

func TestListChatsMalformed(t *testing.T) {
	g := &gateway{contacts: `{"not":"an array"}`}
	c := newTestClient(t, g, 100, 5000)
	_, err := c.ListChats(context.Background())
	if !syncerr.Is(err, syncerr.UpstreamMalformed) {
		t.Errorf("err = %v, want UpstreamMalformed", err)
	}
}

func TestFetchMessagesWindowAndOrder(t *testing.T) {
	g := &gateway{history: minuteHistory("c1@c.us", 30)}
	g.history = append(g.history, map[string]any{
		"type": "outgoing", "idMessage": "OUT", "timestamp": base.Add(5 * time.Minute).Unix(),
		"chatId": "c1@c.us", "typeMessage": "imageMessage", "caption": "look",
	})
	c := newTestClient(t, g, 100, 5000)

	from, to := base.Add(5*time.Minute), base.Add(9*time.Minute)
	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", from, to)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 6 {
		t.Fatalf("got %d messages, want 6 (5..9 plus OUT)", len(msgs))
	}
	if msgs[0].ExternalID != "ID0005" || msgs[1].ExternalID != "OUT" {
		t.Errorf("order = %s, %s; want ID0005, OUT", msgs[0].ExternalID, msgs[1].ExternalID)
	}
	out := msgs[1]
	if out.Direction != store.Outbound || out.SenderID != OutboundSender || !out.HasMedia || out.Body != "look" {
		t.Errorf("outgoing mapping = %+v", out)
	}
	for _, m := range msgs {
		if m.Timestamp.Location() != time.UTC {
			t.Errorf("timestamp %v not UTC", m.Timestamp)
		}
		if m.Timestamp.Before(from) || m.Timestamp.After(to) {
			t.Errorf("message %s outside window", m.ExternalID)
		}
	}
}

func TestFetchMessagesDoublesUntilWindowStart(t *testing.T) {
	g := &gateway{history: minuteHistory("c1@c.us", 1000)}
	c := newTestClient(t, g, 100, 5000)

	// 500 minutes back needs 501 messages: 100, 200, 400, 800.
	from := base.Add(499 * time.Minute)
	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", from, base.Add(2000*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 501 {
		t.Errorf("got %d messages, want 501", len(msgs))
	}
	want := []int{100, 200, 400, 800}
	if fmt.Sprint(g.counts) != fmt.Sprint(want) {
		t.Errorf("counts = %v, want %v", g.counts, want)
	}
}

func TestFetchMessagesRespectsCap(t *testing.T) {
	g := &gateway{history: minuteHistory("c1@c.us", 1000)}
	c := newTestClient(t, g, 100, 250)

	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", base, base.Add(2000*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 250 {
		t.Errorf("got %d messages, want cap 250", len(msgs))
	}
	if last := g.counts[len(g.counts)-1]; last != 250 {
		t.Errorf("last count = %d, want 250", last)
	}
}

func TestFetchMessagesStopsWhenGatewayHasNoMore(t *testing.T) {
	g := &gateway{history: minuteHistory("c1@c.us", 40)}
	c := newTestClient(t, g, 100, 5000)

	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 40 || len(g.counts) != 1 {
		t.Errorf("got %d messages in %d calls, want 40 in 1", len(msgs), len(g.counts))
	}
}

func TestFetchMessagesDropsOtherChats(t *testing.T) {
	g := &gateway{history: append(minuteHistory("c1@c.us", 3), minuteHistory("c2@c.us", 2)...)}
	g.history[3]["idMessage"] = "LEAK1"
	g.history[4]["idMessage"] = "LEAK2"
	c := newTestClient(t, g, 100, 5000)

	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range msgs {
		if m.ChatID != "c1@c.us" {
			t.Errorf("leaked message %s from %s", m.ExternalID, m.ChatID)
		}
	}
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want 3", len(msgs))
	}
}

func TestFetchMessagesSkipsMalformedItems(t *testing.T) {
	g := &gateway{override: func(int) string {
		return fmt.Sprintf(`[
			{"type":"incoming","idMessage":"A","timestamp":%d,"chatId":"c1@c.us","textMessage":"ok"},
			{"type":"sideways","idMessage":"B","timestamp":%d,"chatId":"c1@c.us"},
			{"type":"incoming","timestamp":"yesterday","idMessage":"C"},
			{"type":"outgoing","id":"D","timestamp":%d,"extendedTextMessage":{"text":"link"}}
		]`, base.Unix(), base.Unix(), base.Add(time.Minute).Unix())
	}}
	c := newTestClient(t, g, 100, 5000)

	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ExternalID != "A" || msgs[1].ExternalID != "D" {
		t.Fatalf("got %+v, want A and D", msgs)
	}
	if msgs[1].Body != "link" || msgs[1].ChatID != "c1@c.us" {
		t.Errorf("D = %+v", msgs[1])
	}
}

func TestFetchMessagesMalformedPage(t *testing.T) {
	g := &gateway{override: func(int) string { return `{"error":"weird"}` }}
	c := newTestClient(t, g, 100, 5000)
	_, err := c.FetchMessages(context.Background(), "c1@c.us", base, base.Add(time.Hour))
	if !syncerr.Is(err, syncerr.UpstreamMalformed) {
		t.Errorf("err = %v, want UpstreamMalformed", err)
	}
}

func TestFetchMessagesKeepsPreviousPageOnMalformed(t *testing.T) {
	history := minuteHistory("c1@c.us", 150)
	g := &gateway{}
	g.override = func(count int) string {
		if count > 100 {
			return `not json`
		}
		page := make([]map[string]any, 0, 100)
		for i := len(history) - 1; i >= 50; i-- {
			page = append(page, history[i])
		}
		b, _ := json.Marshal(page)
		return string(b)
	}
	c := newTestClient(t, g, 100, 5000)

	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", base, base.Add(time.Hour*3))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 100 {
		t.Errorf("got %d messages, want the 100 from the good page", len(msgs))
	}
}

func TestRetriesServerErrors(t *testing.T) {
	g := &gateway{history: minuteHistory("c1@c.us", 3), status: http.StatusServiceUnavailable, failFor: 2}
	c := newTestClient(t, g, 100, 5000)
	msgs, err := c.FetchMessages(context.Background(), "c1@c.us", base, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 || g.calls != 3 {
		t.Errorf("got %d messages after %d calls, want 3 after 3", len(msgs), g.calls)
	}
}

func TestRetriesExhausted(t *testing.T) {
	g := &gateway{status: http.StatusTooManyRequests, failFor: 100}
	c := newTestClient(t, g, 100, 5000)
	_, err := c.FetchMessages(context.Background(), "c1@c.us", base, base.Add(time.Hour))
	if !syncerr.Is(err, syncerr.UpstreamUnavailable) {
		t.Errorf("err = %v, want UpstreamUnavailable", err)
	}
	if g.calls != 6 {
		t.Errorf("calls = %d, want 6", g.calls)
	}
}

func TestUnauthorizedIsFatal(t *testing.T) {
	g := &gateway{status: http.StatusUnauthorized, failFor: 100}
	c := newTestClient(t, g, 100, 5000)
	_, err := c.ListChats(context.Background())
	if !syncerr.Is(err, syncerr.UpstreamUnauthorized) {
		t.Errorf("err = %v, want UpstreamUnauthorized", err)
	}
	if g.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", g.calls)
	}
	if strings.Contains(err.Error(), "tok") {
		t.Errorf("error leaks token: %v", err)
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Options{APIURL: "http://x"}, nil)
	if !syncerr.Is(err, syncerr.ConfigError) {
		t.Errorf("err = %v, want ConfigError", err)
	}
}
