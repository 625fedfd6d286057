package metrics

import (
	"context"
	"fmt"

	"contrib.go.opencensus.io/exporter/stackdriver"
	"github.com/offgrid-updates/update-server/internal/config"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var (
	CounterMetadataRequests = stats.Int64("metadata_requests", "Number of update metadata requests", "1")
	CounterDownloads        = stats.Int64("downloads", "Number of release and asset downloads", "1")
	CounterImports          = stats.Int64("imports", "Number of imported releases", "1")
	CounterCacheHit         = stats.Int64("cache_hits", "Number of update cache hits", "1")
	CounterCacheMiss        = stats.Int64("cache_misses", "Number of update cache misses", "1")

	TagOutcome    = tag.MustNewKey("outcome")
	TagPluginStub = tag.MustNewKey("plugin_stub")
	TagDirectory  = tag.MustNewKey("directory")
)

var views = []*view.View{
	{
		Name:        "metadata_requests",
		Measure:     CounterMetadataRequests,
		Description: "Number of update metadata requests",
		TagKeys:     []tag.Key{TagOutcome, TagPluginStub},
		Aggregation: view.Count(),
	},
	{
		Name:        "downloads",
		Measure:     CounterDownloads,
		Description: "Number of release and asset downloads",
		TagKeys:     []tag.Key{TagDirectory},
		Aggregation: view.Count(),
	},
	{
		Name:        "imports",
		Measure:     CounterImports,
		Description: "Number of imported releases",
		TagKeys:     []tag.Key{TagPluginStub},
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_hits",
		Measure:     CounterCacheHit,
		Description: "Number of update cache hits",
		Aggregation: view.Count(),
	},
	{
		Name:        "cache_misses",
		Measure:     CounterCacheMiss,
		Description: "Number of update cache misses",
		Aggregation: view.Count(),
	},
}

func RegisterViews() error {
	return view.Register(views...)
}

// Record increments the counter m with the given tags applied.
func Record(ctx context.Context, m *stats.Int64Measure, mutators ...tag.Mutator) {
	if len(mutators) > 0 {
		if tagged, err := tag.New(ctx, mutators...); err == nil {
			ctx = tagged
		}
	}
	stats.Record(ctx, m.M(1))
}

func NewExporter(cfg *config.ServerConfig) (*stackdriver.Exporter, error) {
	err := RegisterViews()
	if err != nil {
		return nil, err
	}
	exporter, err := stackdriver.NewExporter(stackdriver.Options{
		ProjectID:    cfg.ProjectID,
		MetricPrefix: fmt.Sprintf("plugin-update-server/%s", cfg.Stage),
	})
	if err != nil {
		return nil, err
	}
	err = exporter.StartMetricsExporter()
	if err != nil {
		return nil, err
	}
	return exporter, nil
}
