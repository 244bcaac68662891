// Package store keeps one statistics record per page and applies counter
// arithmetic to it.
//
// Every backend implements counter changes as a single atomic store
// operation; no backend reads a counter, modifies it in process and writes it
// back. Counter and metadata writes against a page that has no record are
// no-ops, so a record exists only between its create and delete events.
package store

import (
	"context"
	"errors"

	"github.com/cppla/pagestats/models"
)

// ErrNotFound is returned by point lookups when no matching record exists.
var ErrNotFound = errors.New("page statistics not found")

// Reader is the read side used by the query API.
type Reader interface {
	Get(ctx context.Context, pageID int64) (*models.PageStatistics, error)
	// QueryByOwner returns every record owned by ownerID. It returns an empty
	// slice, not an error, when the owner has no pages.
	QueryByOwner(ctx context.Context, ownerID int64) ([]models.PageStatistics, error)
	// QueryByOwnerAndPage returns ErrNotFound when the page is absent or owned by someone else.
	QueryByOwnerAndPage(ctx context.Context, ownerID, pageID int64) (*models.PageStatistics, error)
}

// Writer is the mutation side used by the event dispatcher.
type Writer interface {
	// Put unconditionally upserts a full record.
	Put(ctx context.Context, rec models.PageStatistics) error
	// UpdateFields overwrites name and description; no-op when the page is absent.
	UpdateFields(ctx context.Context, pageID int64, meta models.PageMeta) error
	// AdjustCounter atomically adds delta to counter; no-op when the page is absent.
	AdjustCounter(ctx context.Context, pageID int64, counter models.Counter, delta int64) error
	// Delete removes the record; deleting an absent page is not an error.
	Delete(ctx context.Context, pageID int64) error
}

// Store is a complete statistics backend.
type Store interface {
	Reader
	Writer
	// Init creates the table, index or schema the backend needs. It is safe to call repeatedly.
	Init(ctx context.Context) error
	Close() error
}

// ownedBy applies the owner filter after a point lookup.
func ownedBy(rec *models.PageStatistics, err error, ownerID int64) (*models.PageStatistics, error) {
	if err != nil {
		return nil, err
	}
	if rec.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return rec, nil
}
