package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/pagestats/models"
	"github.com/cppla/pagestats/store"
)

func mustEvent(t *testing.T, kind Kind, payload any) Event {
	t.Helper()
	ev, err := New(kind, payload)
	require.NoError(t, err)
	return ev
}

func page(id, owner int64, name string) PagePayload {
	return PagePayload{ID: id, Owner: owner, Name: name}
}

func TestDispatchScenario(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageCreated, page(1, 7, "A"))))
	rec, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.OwnerID)
	assert.Equal(t, models.PageCounters{}, rec.Counters)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PostCreated, 1)))
	rec, _ = s.Get(ctx, 1)
	assert.Equal(t, int64(1), rec.Counters.AmountOfPosts)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, LikeCreated, 1)))
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, LikeCreated, 1)))
	rec, _ = s.Get(ctx, 1)
	assert.Equal(t, int64(2), rec.Counters.AmountOfLikes)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, FollowerAddedAll, FollowersBatch{PageID: 1, Quantity: 5})))
	rec, _ = s.Get(ctx, 1)
	assert.Equal(t, int64(5), rec.Counters.AmountOfFollowers)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageDeleted, 1)))
	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatchCounterTable(t *testing.T) {
	tests := []struct {
		kind    Kind
		counter models.Counter
		want    int64
	}{
		{PostCreated, models.CounterPosts, 1},
		{PostDeleted, models.CounterPosts, -1},
		{LikeCreated, models.CounterLikes, 1},
		{LikeDeleted, models.CounterLikes, -1},
		{FollowerAdded, models.CounterFollowers, 1},
		{FollowerDeleted, models.CounterFollowers, -1},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			ctx := context.Background()
			s := store.NewMemoryStore()
			d := NewDispatcher(s, nil)
			require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageCreated, page(3, 1, "p"))))

			require.NoError(t, d.Dispatch(ctx, mustEvent(t, tt.kind, 3)))

			rec, err := s.Get(ctx, 3)
			require.NoError(t, err)
			for _, c := range models.Counters() {
				if c == tt.counter {
					assert.Equal(t, tt.want, rec.Counters.Get(c))
				} else {
					assert.Zero(t, rec.Counters.Get(c), "counter %s must not move", c)
				}
			}
		})
	}
}

func TestDispatchHandlesEveryKind(t *testing.T) {
	payloads := map[Kind]any{
		PageCreated:      page(1, 1, "p"),
		PageUpdated:      page(1, 1, "q"),
		FollowerAddedAll: FollowersBatch{PageID: 1, Quantity: 2},
	}
	ctx := context.Background()
	for _, k := range Kinds() {
		payload, ok := payloads[k]
		if !ok {
			payload = 1
		}
		s := store.NewMemoryStore()
		require.NoError(t, s.Put(ctx, models.PageStatistics{PageID: 1, OwnerID: 1, Name: "p"}))
		before, _ := s.Get(ctx, 1)

		require.NoError(t, NewDispatcher(s, nil).Dispatch(ctx, mustEvent(t, k, payload)), k)

		after, err := s.Get(ctx, 1)
		if err == nil && *after == *before {
			t.Errorf("kind %s left the store untouched; is it missing from the dispatch switch?", k)
		}
	}
}

func TestDispatchFollowerBatchEqualsRepeatedAdds(t *testing.T) {
	ctx := context.Background()
	batch := store.NewMemoryStore()
	single := store.NewMemoryStore()
	for _, s := range []*store.MemoryStore{batch, single} {
		require.NoError(t, NewDispatcher(s, nil).Dispatch(ctx, mustEvent(t, PageCreated, page(2, 1, "p"))))
	}

	const q = 7
	require.NoError(t, NewDispatcher(batch, nil).Dispatch(ctx, mustEvent(t, FollowerAddedAll, FollowersBatch{PageID: 2, Quantity: q})))
	d := NewDispatcher(single, nil)
	for i := 0; i < q; i++ {
		require.NoError(t, d.Dispatch(ctx, mustEvent(t, FollowerAdded, 2)))
	}

	a, _ := batch.Get(ctx, 2)
	b, _ := single.Get(ctx, 2)
	assert.Equal(t, b.Counters, a.Counters)
	assert.Equal(t, int64(q), a.Counters.AmountOfFollowers)
}

func TestDispatchUnknownKindIsNoop(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.Put(ctx, models.PageStatistics{PageID: 1, OwnerID: 1, Name: "p"}))
	before, _ := s.Get(ctx, 1)

	err := NewDispatcher(s, nil).Dispatch(ctx, Event{Kind: "comment_created", Body: json.RawMessage(`1`)})
	require.NoError(t, err)

	after, _ := s.Get(ctx, 1)
	assert.Equal(t, before, after)
}

func TestDispatchMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"page body not json", Event{Kind: PageCreated, Body: json.RawMessage(`{oops`)}},
		{"page missing owner", Event{Kind: PageCreated, Body: json.RawMessage(`{"id": 1, "name": "x"}`)}},
		{"counter body is object", Event{Kind: PostCreated, Body: json.RawMessage(`{"id": 1}`)}},
		{"counter id not numeric", Event{Kind: LikeDeleted, Body: json.RawMessage(`"abc"`)}},
		{"negative batch", Event{Kind: FollowerAddedAll, Body: json.RawMessage(`{"page_id": 1, "quantity": -3}`)}},
		{"delete empty body", Event{Kind: PageDeleted, Body: json.RawMessage(``)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewDispatcher(store.NewMemoryStore(), nil).Dispatch(context.Background(), tt.ev)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}
}

func TestDispatchEventsForMissingPageAreSoft(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageUpdated, page(9, 1, "late"))))
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PostCreated, 9)))
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageDeleted, 9)))

	_, err := s.Get(ctx, 9)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDispatchCreateThenDeleteLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil)

	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageCreated, page(4, 2, "p"))))
	for _, k := range []Kind{PostCreated, LikeCreated, FollowerAdded, PostCreated, LikeCreated} {
		require.NoError(t, d.Dispatch(ctx, mustEvent(t, k, 4)))
	}
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageDeleted, 4)))
	// a duplicate delivery of the delete is harmless
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageDeleted, 4)))

	_, err := s.Get(ctx, 4)
	assert.ErrorIs(t, err, store.ErrNotFound)
	owned, err := s.QueryByOwner(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, owned)
}

func TestDispatchSanitizesMetadata(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil)

	p := PagePayload{ID: 5, Owner: 1, Name: `<b>Bold</b>`, Description: `hi<script>alert(1)</script>`}
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageCreated, p)))

	rec, err := s.Get(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "Bold", rec.Name)
	assert.Equal(t, "hi", rec.Description)
}

func TestDispatchKeepsPlainTextMetadata(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	d := NewDispatcher(s, nil)

	p := PagePayload{ID: 6, Owner: 1, Name: "Tom & Jerry", Description: `O'Brien's "page" 1 < 2`}
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageCreated, p)))
	rec, err := s.Get(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "Tom & Jerry", rec.Name)
	assert.Equal(t, `O'Brien's "page" 1 < 2`, rec.Description)

	p.Name = "Fish & Chips <3"
	require.NoError(t, d.Dispatch(ctx, mustEvent(t, PageUpdated, p)))
	rec, err = s.Get(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, "Fish & Chips <3", rec.Name)
}
