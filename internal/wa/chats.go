package wa

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/matheus3301/wppcal/internal/store"
	"github.com/matheus3301/wppcal/internal/syncerr"
)

type contactItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContactName string `json:"contactName"`
	Type        string `json:"type"`
}

// ListChats returns every contact and group the gateway knows. Ids that are
// neither (broadcast lists, status) are skipped.
func (c *Client) ListChats(ctx context.Context) ([]store.Chat, error) {
	raw, err := c.call(ctx, "getContacts", nil)
	if err != nil {
		return nil, err
	}
	doc, err := decodeAny(raw)
	if err == nil {
		err = c.schemas.contacts.Validate(doc)
	}
	if err != nil {
		c.log.Error("malformed getContacts response", zap.Error(err), zap.ByteString("body", raw))
		return nil, syncerr.New(syncerr.UpstreamMalformed, "getContacts", err)
	}

	var items []contactItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, syncerr.New(syncerr.UpstreamMalformed, "getContacts", err)
	}

	chats := make([]store.Chat, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		kind, ok := store.KindOf(it.ID)
		if !ok || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		name := strings.TrimSpace(it.ContactName)
		if name == "" {
			name = strings.TrimSpace(it.Name)
		}
		chats = append(chats, store.Chat{
			ChatID:         it.ID,
			Kind:           kind,
			DisplayName:    name,
			PhoneOrGroupID: store.LocalPart(it.ID),
		})
	}
	return chats, nil
}
