package metadata

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/offgrid-updates/update-server/internal/archive"
	"github.com/offgrid-updates/update-server/internal/readme"
	"github.com/offgrid-updates/update-server/internal/release"
	"github.com/offgrid-updates/update-server/internal/storage"
	"github.com/offgrid-updates/update-server/pkg/updates"
	"github.com/sirupsen/logrus"
)

var ErrBadRequest = errors.New("bad request")

var identifierRe = regexp.MustCompile(`^[A-Za-z0-9_\-.]+/[A-Za-z0-9_\-.]+$`)

// ValidateIdentifier checks a "<stub>/<main-file>" plugin identifier.
func ValidateIdentifier(identifier string) error {
	if identifier == "" {
		return fmt.Errorf("%w: plugin identifier is missing", ErrBadRequest)
	}
	if !identifierRe.MatchString(identifier) {
		return fmt.Errorf("%w: invalid plugin identifier %q", ErrBadRequest, identifier)
	}
	stub := release.Stub(identifier)
	if stub == "" || stub == "." || stub == ".." {
		return fmt.Errorf("%w: invalid plugin identifier %q", ErrBadRequest, identifier)
	}
	return nil
}

func readmeEntryName(stub string) string {
	return stub + "/readme.txt"
}

// Resolver runs the update metadata pipeline: locate the release, read the
// readme and main plugin file out of the archive, parse and assemble.
type Resolver struct {
	log            *logrus.Logger
	store          storage.Store
	profileBaseURL string
}

func NewResolver(log *logrus.Logger, store storage.Store, profileBaseURL string) *Resolver {
	return &Resolver{log: log, store: store, profileBaseURL: profileBaseURL}
}

func (r *Resolver) extract(ctx context.Context, sel *release.Selection, identifier string) (map[string][]byte, error) {
	obj, err := r.store.Open(ctx, sel.Key())
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", release.ErrNotFound, err)
		}
		return nil, fmt.Errorf("%w: could not open %s: %w", archive.ErrArchive, sel.Key(), err)
	}
	defer obj.Close()

	entries, err := archive.Extract(obj, obj.Info().Size, readmeEntryName(sel.PluginStub), identifier)
	var missingErr *archive.MissingEntriesError
	if errors.As(err, &missingErr) {
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %s contains neither readme nor main plugin file", archive.ErrArchive, sel.FileName)
		}
		r.log.WithField("archive", sel.FileName).Warn(missingErr.Error())
		return entries, nil
	}
	return entries, err
}

func (r *Resolver) assets(ctx context.Context) (map[string]bool, error) {
	names, err := r.store.List(ctx, storage.AssetsDir)
	if err != nil {
		return nil, fmt.Errorf("could not list assets: %w", err)
	}
	ret := make(map[string]bool, len(names))
	for _, n := range names {
		ret[n] = true
	}
	return ret, nil
}

// Resolve builds the update metadata for identifier. baseURL is the public
// URL of the server without trailing slash.
func (r *Resolver) Resolve(ctx context.Context, identifier, baseURL string) (*updates.Metadata, error) {
	if err := ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	sel, err := release.Locate(ctx, r.store, identifier)
	if err != nil {
		return nil, err
	}

	entries, err := r.extract(ctx, sel, identifier)
	if err != nil {
		return nil, err
	}

	info, err := r.store.Stat(ctx, sel.Key())
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", release.ErrNotFound, err)
		}
		return nil, err
	}

	assets, err := r.assets(ctx)
	if err != nil {
		return nil, err
	}

	in := &Input{
		Identifier:     identifier,
		Selection:      sel,
		Release:        info,
		Assets:         assets,
		BaseURL:        baseURL,
		ProfileBaseURL: r.profileBaseURL,
	}
	if content, ok := entries[readmeEntryName(sel.PluginStub)]; ok {
		in.Readme = readme.Parse(content)
	}
	if content, ok := entries[identifier]; ok {
		in.Header = ParseHeader(content)
	}
	return Assemble(in), nil
}
