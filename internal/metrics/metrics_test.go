package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

func TestRecord(t *testing.T) {
	require.NoError(t, RegisterViews())
	defer view.Unregister(views...)

	ctx := context.Background()
	Record(ctx, CounterMetadataRequests, tag.Upsert(TagOutcome, "ok"), tag.Upsert(TagPluginStub, "foo"))
	Record(ctx, CounterMetadataRequests, tag.Upsert(TagOutcome, "ok"), tag.Upsert(TagPluginStub, "foo"))
	Record(ctx, CounterCacheHit)

	rows, err := view.RetrieveData("metadata_requests")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(2), rows[0].Data.(*view.CountData).Value)

	rows, err = view.RetrieveData("cache_hits")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, int64(1), rows[0].Data.(*view.CountData).Value)
}
