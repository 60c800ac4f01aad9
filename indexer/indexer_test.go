package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"nftmarket/core/events"
	"nftmarket/core/types"
)

type testEvent struct{ evt *types.Event }

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

func newTestIndexer(t *testing.T) *Indexer {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := Open(DriverSQLite, dsn)
	require.NoError(t, err)
	idx, err := New(db, nil)
	require.NoError(t, err)
	idx.SetNowFunc(func() time.Time { return time.Unix(1_700_000_000, 0) })
	return idx
}

func emit(emitter events.Emitter, eventType, assetID string) {
	emitter.Emit(testEvent{evt: &types.Event{
		Type:       eventType,
		Attributes: map[string]string{"assetId": assetID, "price": "1000"},
	}})
}

func TestIndexerArchivesInOrder(t *testing.T) {
	idx := newTestIndexer(t)
	emit(idx, "market.listed", "punk-1")
	emit(idx, "market.bid_placed", "punk-2")
	emit(idx, "market.trade_completed", "punk-1")

	records, err := idx.Recent(context.Background(), "punk-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "market.trade_completed", records[0].Type)
	require.Equal(t, uint64(3), records[0].Sequence)
	require.Equal(t, "market.listed", records[1].Type)

	evt, err := records[0].Decode()
	require.NoError(t, err)
	require.Equal(t, "1000", evt.Attr("price"))

	all, err := idx.Recent(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
}

func TestIndexerResumesSequence(t *testing.T) {
	idx := newTestIndexer(t)
	emit(idx, "market.listed", "punk-1")

	resumed, err := New(idx.db, nil)
	require.NoError(t, err)
	require.NoError(t, resumed.Record(context.Background(), &types.Event{Type: "market.revoked", Attributes: map[string]string{"assetId": "punk-1"}}))

	records, err := resumed.Recent(context.Background(), "punk-1", 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, uint64(2), records[0].Sequence)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "dsn")
	require.Error(t, err)
}
