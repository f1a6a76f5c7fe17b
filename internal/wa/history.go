package wa

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

type historyItem struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	IDMessage   string `json:"idMessage"`
	ID          string `json:"id"`
	ChatID      string `json:"chatId"`
	TypeMessage string `json:"typeMessage"`
	TextMessage string `json:"textMessage"`
	Caption     string `json:"caption"`
	SenderID    string `json:"senderId"`
	Sender      string `json:"sender"`
	DownloadURL string `json:"downloadUrl"`
	Extended    *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
}

var mediaTypes = map[string]bool{
	"imageMessage":    true,
	"videoMessage":    true,
	"audioMessage":    true,
	"documentMessage": true,
	"stickerMessage":  true,
}

// OutboundSender is the sender id recorded for the operator's own messages.
const OutboundSender = "me"

// FetchMessages returns the messages of chatID with from <= timestamp <= to,
// ascending by (timestamp, id). The gateway returns the newest N messages, so
// N doubles from the page size until the oldest returned message precedes
// from, the gateway has nothing older, or the per-sync cap is reached.
//
// A page that fails validation is logged in full. If an earlier page was
// good its messages are returned, otherwise the call fails with
// UpstreamMalformed. Items naming another chat are dropped.
func (c *Client) FetchMessages(ctx context.Context, chatID string, from, to time.Time) ([]store.Message, error) {
	count := min(c.pageSize, c.maxMessages)
	var items []historyItem
	for {
		page, returned, err := c.historyPage(ctx, chatID, count)
		if err != nil {
			if syncerr.Is(err, syncerr.UpstreamMalformed) && items != nil {
				c.log.Warn("keeping previous history page", zap.String("chat_id", chatID), zap.Int("count", len(items)))
				break
			}
			return nil, err
		}
		items = page

		exhausted := returned < count
		reachedFrom := oldest(page).Before(from)
		if exhausted || reachedFrom || count >= c.maxMessages {
			if count >= c.maxMessages && !exhausted && !reachedFrom {
				c.log.Warn("history capped before window start",
					zap.String("chat_id", chatID),
					zap.Int("max_messages", c.maxMessages),
					zap.Time("from", from))
			}
			break
		}
		count = min(count*2, c.maxMessages)
	}

	out := make([]store.Message, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		m := it.toMessage(chatID)
		if m.ChatID != chatID {
			c.log.Warn("dropping message for another chat",
				zap.String("chat_id", chatID), zap.String("item_chat_id", m.ChatID), zap.String("message_id", m.ExternalID))
			continue
		}
		if m.Timestamp.Before(from) || m.Timestamp.After(to) || seen[m.ExternalID] {
			continue
		}
		seen[m.ExternalID] = true
		out = append(out, m)
	}
	store.SortMessages(out)
	return out, nil
}

// historyPage requests the newest count messages. returned is how many items
// the gateway sent, including any skipped as malformed.
func (c *Client) historyPage(ctx context.Context, chatID string, count int) (items []historyItem, returned int, err error) {
	raw, err := c.call(ctx, "getChatHistory", map[string]any{"chatId": chatID, "count": count})
	if err != nil {
		return nil, 0, err
	}
	doc, err := decodeAny(raw)
	if err == nil {
		err = c.schemas.history.Validate(doc)
	}
	if err != nil {
		c.log.Error("malformed getChatHistory response",
			zap.String("chat_id", chatID), zap.Error(err), zap.ByteString("body", raw))
		return nil, 0, syncerr.New(syncerr.UpstreamMalformed, "getChatHistory", err)
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(raw, &rawItems); err != nil {
		return nil, 0, syncerr.New(syncerr.UpstreamMalformed, "getChatHistory", err)
	}
	docs, _ := doc.([]any)

	items = make([]historyItem, 0, len(rawItems))
	for i, r := range rawItems {
		if i < len(docs) {
			if err := c.schemas.message.Validate(docs[i]); err != nil {
				c.log.Warn("skipping malformed history item",
					zap.String("chat_id", chatID), zap.Error(err), zap.ByteString("item", r))
				continue
			}
		}
		var it historyItem
		if err := json.Unmarshal(r, &it); err != nil {
			c.log.Warn("skipping undecodable history item", zap.String("chat_id", chatID), zap.Error(err))
			continue
		}
		items = append(items, it)
	}
	return items, len(rawItems), nil
}

func oldest(items []historyItem) time.Time {
	var t time.Time
	for _, it := range items {
		if it.Timestamp <= 0 {
			continue
		}
		ts := time.Unix(it.Timestamp, 0).UTC()
		if t.IsZero() || ts.Before(t) {
			t = ts
		}
	}
	return t
}

func (it historyItem) toMessage(chatID string) store.Message {
	id := it.IDMessage
	if id == "" {
		id = it.ID
	}
	itemChat := it.ChatID
	if itemChat == "" {
		itemChat = chatID
	}

	body := it.TextMessage
	if body == "" && it.Extended != nil {
		body = it.Extended.Text
	}
	if body == "" {
		body = it.Caption
	}

	m := store.Message{
		ChatID:     itemChat,
		ExternalID: id,
		Timestamp:  time.Unix(it.Timestamp, 0).UTC(),
		Direction:  store.Inbound,
		SenderID:   it.SenderID,
		Body:       body,
		HasMedia:   mediaTypes[it.TypeMessage] || it.DownloadURL != "",
	}
	if m.SenderID == "" {
		m.SenderID = it.Sender
	}
	if it.Type == "outgoing" {
		m.Direction = store.Outbound
		m.SenderID = OutboundSender
	}
	return m
}
