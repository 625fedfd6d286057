package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/go-github/v59/github"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/offgrid-updates/update-server/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const maxParallelDownloads = 4

var stubRe = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)

// Importer copies release archives published on GitHub into the store.
// Archives already present in the store are never overwritten.
type Importer struct {
	log      *logrus.Logger
	ghClient *github.Client
	store    storage.Store
}

func New(log *logrus.Logger, ghClient *github.Client, store storage.Store) *Importer {
	return &Importer{log: log, ghClient: ghClient, store: store}
}

func downloadFileAndVerifyChecksum(ctx context.Context, w io.Writer, url, checksum string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	checksumHash := sha256.New()
	n, err := io.Copy(io.MultiWriter(w, checksumHash), resp.Body)
	if err != nil {
		return fmt.Errorf("failed to download file: %w", err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("unexpected content length: %d (should be %d)", n, resp.ContentLength)
	}
	if checksum != "" && hex.EncodeToString(checksumHash.Sum(nil)) != checksum {
		return fmt.Errorf("checksum verification failed")
	}
	return nil
}

func isZip(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/zip") {
			return true
		}
	}
	return false
}

func (i *Importer) importArchive(ctx context.Context, ra *releaseArchive) error {
	key := storage.Key(storage.ReleasesDir, ra.FileName)
	exists, err := storage.Exists(ctx, i.store, key)
	if err != nil {
		return err
	}
	if exists {
		i.log.Infof("%s already exists, skipping", key)
		return nil
	}

	tmpFile, err := os.CreateTemp("", "release-import-*.zip")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())
	defer tmpFile.Close()

	if err := downloadFileAndVerifyChecksum(ctx, tmpFile, ra.URL, ra.Checksum); err != nil {
		return fmt.Errorf("failed to download %s: %w", ra.FileName, err)
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	mtype, err := mimetype.DetectReader(tmpFile)
	if err != nil {
		return err
	}
	if !isZip(mtype) {
		return fmt.Errorf("%s is not a zip archive (%s)", ra.FileName, mtype.String())
	}
	if _, err := tmpFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := i.store.Put(ctx, key, tmpFile, "application/zip"); err != nil {
		return fmt.Errorf("failed to store %s: %w", key, err)
	}
	i.log.Infof("imported %s", key)
	return nil
}

// Import fetches the release archives of stub from the GitHub repository
// fullRepo. An empty version imports every release. It returns the imported
// versions.
func (i *Importer) Import(ctx context.Context, stub, fullRepo, version string) ([]string, error) {
	if !stubRe.MatchString(stub) || stub == "." || stub == ".." {
		return nil, fmt.Errorf("invalid plugin stub %q", stub)
	}
	var releases []*github.RepositoryRelease
	if version == "" {
		all, err := getAllGitHubReleases(ctx, i.ghClient, fullRepo)
		if err != nil {
			return nil, err
		}
		releases = all
	} else {
		r, err := getGitHubRelease(ctx, i.ghClient, fullRepo, fmt.Sprintf("v%s", version))
		if err != nil {
			return nil, err
		}
		releases = []*github.RepositoryRelease{r}
	}

	archives := make([]*releaseArchive, 0, len(releases))
	for _, r := range releases {
		ra, err := findReleaseArchive(ctx, stub, r)
		if err != nil {
			if version != "" {
				return nil, err
			}
			i.log.Warnf("skipping release %s: %v", r.GetTagName(), err)
			continue
		}
		archives = append(archives, ra)
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for _, ra := range archives {
		g.Go(func() error {
			return i.importArchive(gCtx, ra)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	imported := make([]string, len(archives))
	for idx, ra := range archives {
		imported[idx] = ra.Version
	}
	return imported, nil
}
