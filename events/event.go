package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event is one message on the wire: a kind plus its JSON body.
type Event struct {
	// ID is a unique message id. Inbound events carry whatever the broker
	// reported and it may be empty.
	ID   string
	Kind Kind
	Body json.RawMessage
}

// New marshals payload for kind and stamps a fresh message id. The payload is
// validated by decoding it back, so a publisher cannot emit an event the
// dispatcher would reject.
func New(kind Kind, payload any) (Event, error) {
	if !kind.Known() {
		return Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	ev := Event{ID: uuid.NewString(), Kind: kind, Body: body}
	if _, err := ev.PageID(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// PageID extracts the page the event refers to.
func (e Event) PageID() (int64, error) {
	switch e.Kind {
	case PageCreated, PageUpdated:
		p, err := DecodePage(e.Kind, e.Body)
		return p.ID, err
	case FollowerAddedAll:
		b, err := DecodeFollowersBatch(e.Kind, e.Body)
		return b.PageID, err
	case PageDeleted, PostCreated, PostDeleted, LikeCreated, LikeDeleted, FollowerAdded, FollowerDeleted:
		return DecodePageID(e.Kind, e.Body)
	default:
		return 0, fmt.Errorf("unknown event kind %q", e.Kind)
	}
}
