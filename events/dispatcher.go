package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/cppla/pagestats/models"
	"github.com/cppla/pagestats/store"
	"github.com/cppla/pagestats/utils"
)

// Dispatcher routes each event kind to one store operation.
type Dispatcher struct {
	store  store.Writer
	logger *zap.Logger
}

// NewDispatcher creates a dispatcher writing to w.
func NewDispatcher(w store.Writer, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{store: w, logger: logger}
}

// Dispatch applies ev to the store. Errors wrapping ErrMalformed mean the
// event can never succeed; any other error comes from the store and the event
// should be retried. Unknown kinds are logged and ignored.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case PageCreated:
		p, err := DecodePage(ev.Kind, ev.Body)
		if err != nil {
			return err
		}
		return d.store.Put(ctx, models.PageStatistics{
			PageID:      p.ID,
			OwnerID:     p.Owner,
			Name:        utils.SanitizeText(p.Name),
			Description: utils.SanitizeText(p.Description),
		})
	case PageUpdated:
		p, err := DecodePage(ev.Kind, ev.Body)
		if err != nil {
			return err
		}
		return d.store.UpdateFields(ctx, p.ID, models.PageMeta{
			Name:        utils.SanitizeText(p.Name),
			Description: utils.SanitizeText(p.Description),
		})
	case PageDeleted:
		id, err := DecodePageID(ev.Kind, ev.Body)
		if err != nil {
			return err
		}
		return d.store.Delete(ctx, id)
	case PostCreated:
		return d.adjust(ctx, ev, models.CounterPosts, 1)
	case PostDeleted:
		return d.adjust(ctx, ev, models.CounterPosts, -1)
	case LikeCreated:
		return d.adjust(ctx, ev, models.CounterLikes, 1)
	case LikeDeleted:
		return d.adjust(ctx, ev, models.CounterLikes, -1)
	case FollowerAdded:
		return d.adjust(ctx, ev, models.CounterFollowers, 1)
	case FollowerDeleted:
		return d.adjust(ctx, ev, models.CounterFollowers, -1)
	case FollowerAddedAll:
		b, err := DecodeFollowersBatch(ev.Kind, ev.Body)
		if err != nil {
			return err
		}
		if b.Quantity == 0 {
			return nil
		}
		return d.store.AdjustCounter(ctx, b.PageID, models.CounterFollowers, b.Quantity)
	default:
		d.logger.Warn("ignoring unknown event kind", zap.String("kind", string(ev.Kind)), zap.String("message_id", ev.ID))
		return nil
	}
}

func (d *Dispatcher) adjust(ctx context.Context, ev Event, counter models.Counter, delta int64) error {
	id, err := DecodePageID(ev.Kind, ev.Body)
	if err != nil {
		return err
	}
	return d.store.AdjustCounter(ctx, id, counter, delta)
}
