package projector

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/wppcal/internal/config"
	"github.com/matheus3301/wppcal/internal/session"
	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

var start = time.Date(2026, 10, 12, 10, 0, 0, 0, time.UTC)

func testSession(chatID string) session.Session {
	return session.Session{
		ChatID:         chatID,
		Start:          start,
		End:            start.Add(15 * time.Minute),
		MessageCount:   3,
		FirstMessageID: "m1",
		LastMessageID:  "m3",
		Inbound:        2,
		Outbound:       1,
		First:          store.Message{ExternalID: "m1", Timestamp: start, Body: "hello\nthere"},
		Last:           store.Message{ExternalID: "m3", Timestamp: start.Add(10 * time.Minute), HasMedia: true},
	}
}

func TestMarkerStable(t *testing.T) {
	a := Marker("c1@c.us", start, start.Add(15*time.Minute), "m1")
	b := Marker("c1@c.us", start.In(time.FixedZone("IDT", 3*3600)), start.Add(15*time.Minute), "m1")
	if a != b {
		t.Error("marker must not depend on the time zone of its inputs")
	}
	if len(a) != 64 {
		t.Errorf("marker length = %d, want 64", len(a))
	}
	variants := []string{
		Marker("c2@c.us", start, start.Add(15*time.Minute), "m1"),
		Marker("c1@c.us", start.Add(time.Minute), start.Add(15*time.Minute), "m1"),
		Marker("c1@c.us", start, start.Add(16*time.Minute), "m1"),
		Marker("c1@c.us", start, start.Add(15*time.Minute), "m2"),
	}
	for i, v := range variants {
		if v == a {
			t.Errorf("variant %d collides with base marker", i)
		}
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		chat store.Chat
		want string
	}{
		{store.Chat{ChatID: "972@c.us", Kind: store.KindContact, DisplayName: "Dana"}, "💬 Dana"},
		{store.Chat{ChatID: "1203@g.us", Kind: store.KindGroup, DisplayName: "Family"}, "👥 Family"},
		{store.Chat{ChatID: "972@c.us", Kind: store.KindContact, PhoneOrGroupID: "972501234567"}, "💬 972501234567"},
		{store.Chat{ChatID: "1203@g.us", Kind: store.KindGroup}, "👥 1203"},
	}
	for _, tt := range tests {
		if got := Title(&tt.chat); got != tt.want {
			t.Errorf("Title(%+v) = %q, want %q", tt.chat, got, tt.want)
		}
	}
}

func TestProject(t *testing.T) {
	p := New(config.Default().Projector)
	chat := &store.Chat{ChatID: "c1@c.us", Kind: store.KindContact, DisplayName: "Dana", Category: "clients"}
	sess := testSession("c1@c.us")

	got, err := p.Project(chat, sess, store.Selection{ChatID: "c1@c.us", InScope: true, Priority: 8})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "💬 Dana" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Marker != Marker("c1@c.us", sess.Start, sess.End, "m1") {
		t.Errorf("marker = %q", got.Marker)
	}
	if !got.Start.Equal(sess.Start) || !got.End.Equal(sess.End) {
		t.Errorf("times = %v..%v", got.Start, got.End)
	}
	if got.Category != "clients" {
		t.Errorf("category = %q", got.Category)
	}
	for _, want := range []string{"Messages: 3 (2 in, 1 out)", "Priority: 8", "Category: clients", "hello there", "[media]"} {
		if !strings.Contains(got.Description, want) {
			t.Errorf("description missing %q:\n%s", want, got.Description)
		}
	}
	if MarkerFromDescription(got.Description) != got.Marker {
		t.Errorf("footer marker = %q, want %q", MarkerFromDescription(got.Description), got.Marker)
	}
}

func TestProjectMissingChat(t *testing.T) {
	p := New(config.Default().Projector)
	_, err := p.Project(nil, testSession("ghost@c.us"), store.Selection{Priority: 5})
	if !syncerr.Is(err, syncerr.MissingChat) {
		t.Errorf("err = %v, want MissingChat", err)
	}
}

func TestProjectRejectsPlaceholderNames(t *testing.T) {
	p := New(config.Default().Projector)
	for _, name := range []string{"Unknown Contact", "איש קשר לא ידוע", "Contacto desconocido 2"} {
		chat := &store.Chat{ChatID: "x@c.us", Kind: store.KindContact, DisplayName: name}
		_, err := p.Project(chat, testSession("x@c.us"), store.Selection{Priority: 5})
		if !syncerr.Is(err, syncerr.MissingChat) {
			t.Errorf("name %q: err = %v, want MissingChat", name, err)
		}
	}

	custom := New(config.ProjectorConfig{RejectTitlePatterns: []string{"  ", "NO NAME"}})
	chat := &store.Chat{ChatID: "x@c.us", Kind: store.KindContact, DisplayName: "no name"}
	if _, err := custom.Project(chat, testSession("x@c.us"), store.Selection{}); !syncerr.Is(err, syncerr.MissingChat) {
		t.Errorf("custom pattern not applied: %v", err)
	}
	chat.DisplayName = "Unknown Contact"
	if _, err := custom.Project(chat, testSession("x@c.us"), store.Selection{}); err != nil {
		t.Errorf("default patterns should not apply when overridden: %v", err)
	}
}

func TestPreviewTruncation(t *testing.T) {
	p := New(config.Default().Projector)
	long := strings.Repeat("ש", 500)
	got := p.preview(store.Message{Body: long})
	if n := utf8.RuneCountInString(got); n != 200 {
		t.Errorf("preview length = %d runes, want 200", n)
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated preview should end with an ellipsis")
	}
	if got := p.preview(store.Message{}); got != "(empty)" {
		t.Errorf("empty preview = %q", got)
	}
	if got := Truncate("abc", 0); got != "" {
		t.Errorf("Truncate(n=0) = %q", got)
	}
}

func TestSingleMessageHasNoLastLine(t *testing.T) {
	p := New(config.Default().Projector)
	sess := testSession("c1@c.us")
	sess.MessageCount = 1
	got, err := p.Project(&store.Chat{ChatID: "c1@c.us", Kind: store.KindGroup, DisplayName: "Team"}, sess, store.Selection{Priority: 9})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(got.Description, "Last (") {
		t.Errorf("description should not repeat the only message:\n%s", got.Description)
	}
	if got.Category != "group" {
		t.Errorf("category fallback = %q, want group", got.Category)
	}
}
