package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/offgrid-updates/update-server/internal/metrics"
	"github.com/offgrid-updates/update-server/pkg/updates"
	"github.com/offgrid-updates/update-server/pkg/version"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a successful metadata response is reused.
const DefaultTTL = 12 * time.Hour

const cacheKeySuffix = "-upgrade-check"

// Fetcher performs a single update metadata request. *client.Client
// implements it.
type Fetcher interface {
	FetchMetadata(ctx context.Context, identifier string) ([]byte, error)
}

// CacheKey returns the cache key of the plugin identifier, e.g.
// "my-plugin-upgrade-check" for "my-plugin/my-plugin.php".
func CacheKey(identifier string) string {
	stub, _, _ := strings.Cut(identifier, "/")
	return stub + cacheKeySuffix
}

// Updater polls the update server for a single installed plugin and caches
// the answer.
type Updater struct {
	log        *logrus.Logger
	fetcher    Fetcher
	cache      Cache
	identifier string
	slug       string
	ttl        time.Duration
	now        func() time.Time
	group      singleflight.Group
}

type Option func(*Updater)

func WithLogger(log *logrus.Logger) Option {
	return func(u *Updater) {
		u.log = log
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(u *Updater) {
		u.ttl = ttl
	}
}

// New creates an updater for the plugin identified by identifier
// ("<stub>/<main-file>").
func New(fetcher Fetcher, cache Cache, identifier string, opts ...Option) *Updater {
	slug, _, _ := strings.Cut(identifier, "/")
	u := &Updater{
		fetcher:    fetcher,
		cache:      cache,
		identifier: identifier,
		slug:       slug,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.log == nil {
		u.log = logrus.New()
		u.log.Out = io.Discard
	}
	return u
}

func (u *Updater) cacheKey() string {
	return CacheKey(u.identifier)
}

func (u *Updater) cached() (json.RawMessage, bool) {
	raw, ok, err := u.cache.Get(u.cacheKey())
	if err != nil {
		u.log.Debugf("cache lookup of %s failed: %v", u.cacheKey(), err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var cr CachedResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		u.log.Warnf("discarding corrupt cache entry %s: %v", u.cacheKey(), err)
		return nil, false
	}
	if cr.Expired(u.now()) {
		return nil, false
	}
	return cr.Body, true
}

func (u *Updater) store(body []byte) error {
	cr := &CachedResponse{
		Body:     body,
		StoredAt: u.now(),
		TTL:      u.ttl,
	}
	raw, err := json.Marshal(cr)
	if err != nil {
		return err
	}
	return u.cache.Set(u.cacheKey(), raw, u.ttl)
}

// fetch returns the metadata body from the cache or, on a miss, from the
// update server. Only valid JSON bodies are cached.
func (u *Updater) fetch(ctx context.Context) ([]byte, error) {
	if body, ok := u.cached(); ok {
		metrics.Record(ctx, metrics.CounterCacheHit)
		return body, nil
	}
	metrics.Record(ctx, metrics.CounterCacheMiss)

	v, err, _ := u.group.Do(u.cacheKey(), func() (any, error) {
		if body, ok := u.cached(); ok {
			return []byte(body), nil
		}
		body, err := u.fetcher.FetchMetadata(ctx, u.identifier)
		if err != nil {
			return nil, err
		}
		if !json.Valid(body) {
			return nil, fmt.Errorf("invalid update metadata for %s", u.identifier)
		}
		if err := u.store(body); err != nil {
			u.log.Warnf("could not cache update metadata for %s: %v", u.identifier, err)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (u *Updater) metadata(ctx context.Context) (*updates.Metadata, bool) {
	body, err := u.fetch(ctx)
	if err != nil {
		u.log.Warnf("could not fetch update metadata for %s: %v", u.identifier, err)
		return nil, false
	}
	var m updates.Metadata
	if err := json.Unmarshal(body, &m); err != nil {
		u.log.Warnf("could not decode update metadata for %s: %v", u.identifier, err)
		return nil, false
	}
	return &m, true
}

// Details returns the plugin information record for the plugin details
// view. Requests for other slugs are not answered.
func (u *Updater) Details(ctx context.Context, slug string) (*updates.Metadata, bool) {
	if slug != u.slug {
		return nil, false
	}
	return u.metadata(ctx)
}

// CheckForUpdate reports an available update if the remote version is
// strictly newer than currentVersion and hostVersion satisfies the remote
// minimum host requirement.
func (u *Updater) CheckForUpdate(ctx context.Context, currentVersion, hostVersion string) (*updates.Availability, bool) {
	m, ok := u.metadata(ctx)
	if !ok || m.NewVersion == "" {
		return nil, false
	}
	if version.Compare(currentVersion, m.NewVersion) >= 0 {
		return nil, false
	}
	if !version.SatisfiesMinimum(hostVersion, m.Requires) {
		u.log.Infof("%s %s requires host version %s (have %s)", u.identifier, m.NewVersion, m.Requires, hostVersion)
		return nil, false
	}
	return updates.NewAvailability(m), true
}

// Invalidate drops the cached metadata so that the next call fetches again.
func (u *Updater) Invalidate() error {
	return u.cache.Delete(u.cacheKey())
}

// AfterUpdate is called once an install or update finished. Only plugin
// updates invalidate the cache.
func (u *Updater) AfterUpdate(action, kind string) {
	if action != "update" || kind != "plugin" {
		return
	}
	if err := u.Invalidate(); err != nil {
		u.log.Warnf("could not invalidate update cache of %s: %v", u.identifier, err)
	}
}
