package release

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"sort"

	"github.com/offgrid-updates/update-server/internal/storage"
	"github.com/offgrid-updates/update-server/pkg/version"
)

var ErrNotFound = errors.New("no release found")

// Set holds the releases available for one plugin.
type Set struct {
	PluginStub string
	// Versions maps every versioned archive to its file name.
	Versions map[string]string
	// UnversionedLatest is set when <stub>.zip exists. It always wins.
	UnversionedLatest bool
}

// SortedVersions returns the versions in descending order.
func (s *Set) SortedVersions() []string {
	ret := make([]string, 0, len(s.Versions))
	for v := range s.Versions {
		ret = append(ret, v)
	}
	sort.Slice(ret, func(i, j int) bool {
		return version.Less(ret[j], ret[i])
	})
	return ret
}

// Selection is the authoritative release of a plugin.
type Selection struct {
	*Set
	// Version is empty when the unversioned archive was selected.
	Version  string
	FileName string
}

func (s *Selection) Key() string {
	return storage.Key(storage.ReleasesDir, s.FileName)
}

// Stub returns the directory part of a "<stub>/<main-file>" identifier.
func Stub(identifier string) string {
	stub := path.Dir(identifier)
	if stub == "." || stub == "/" {
		return ""
	}
	return stub
}

func UnversionedFileName(stub string) string {
	return stub + ".zip"
}

func VersionedFileName(stub, v string) string {
	return fmt.Sprintf("%s-%s.zip", stub, v)
}

func versionPattern(stub string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(stub) + `-([0-9.]+)\.zip$`)
}

// Scan lists the release directory and collects the archives of stub.
func Scan(ctx context.Context, store storage.Store, stub string) (*Set, error) {
	names, err := store.List(ctx, storage.ReleasesDir)
	if err != nil {
		return nil, fmt.Errorf("could not list releases: %w", err)
	}
	set := &Set{
		PluginStub: stub,
		Versions:   make(map[string]string),
	}
	re := versionPattern(stub)
	for _, name := range names {
		if name == UnversionedFileName(stub) {
			set.UnversionedLatest = true
			continue
		}
		m := re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		set.Versions[m[1]] = name
	}
	return set, nil
}

// Locate finds the latest release of the plugin identified by identifier.
// An unversioned <stub>.zip is selected unconditionally, otherwise the highest
// <stub>-<version>.zip is used.
func Locate(ctx context.Context, store storage.Store, identifier string) (*Selection, error) {
	stub := Stub(identifier)
	if stub == "" {
		return nil, fmt.Errorf("%w: invalid plugin identifier %q", ErrNotFound, identifier)
	}
	set, err := Scan(ctx, store, stub)
	if err != nil {
		return nil, err
	}
	if set.UnversionedLatest {
		return &Selection{Set: set, FileName: UnversionedFileName(stub)}, nil
	}
	versions := make([]string, 0, len(set.Versions))
	for v := range set.Versions {
		versions = append(versions, v)
	}
	latest := version.Max(versions)
	if latest == "" {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, stub)
	}
	return &Selection{Set: set, Version: latest, FileName: set.Versions[latest]}, nil
}
