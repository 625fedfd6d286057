package importer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/go-github/v59/github"
	"github.com/hashicorp/go-retryablehttp"
)

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.HTTPClient.Timeout = 3 * time.Minute
	})
	return defaultRetryableClient
}

func getOwnerRepo(fullRepo string) (string, string) {
	owner, repo, found := strings.Cut(fullRepo, "/")
	if !found {
		return "", ""
	}

	return owner, repo
}

// isImportable filters releases that can be served: published, stable,
// tagged with a valid version and carrying assets.
func isImportable(release *github.RepositoryRelease) error {
	if release.GetDraft() {
		return fmt.Errorf("release is a draft")
	}
	if release.GetPrerelease() {
		return fmt.Errorf("release is a prerelease")
	}
	v, err := semver.NewVersion(release.GetTagName())
	if err != nil {
		return fmt.Errorf("release is not a valid semver version: %w", err)
	}
	if v.Prerelease() != "" || v.Metadata() != "" {
		return fmt.Errorf("release version %s is not numeric", v.Original())
	}
	if len(release.Assets) == 0 {
		return fmt.Errorf("release has no assets")
	}
	return nil
}

func getAllGitHubReleases(ctx context.Context, ghClient *github.Client, fullRepo string) ([]*github.RepositoryRelease, error) {
	owner, repo := getOwnerRepo(fullRepo)
	ret := make([]*github.RepositoryRelease, 0)
	opts := &github.ListOptions{Page: 1, PerPage: 100}
	for {
		releases, resp, err := ghClient.Repositories.ListReleases(ctx, owner, repo, opts)
		if err != nil {
			return nil, err
		}
		for _, release := range releases {
			if isImportable(release) != nil {
				continue
			}
			ret = append(ret, release)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ret, nil
}

func getGitHubRelease(ctx context.Context, ghClient *github.Client, fullRepo, tag string) (*github.RepositoryRelease, error) {
	owner, repo := getOwnerRepo(fullRepo)
	release, _, err := ghClient.Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		return nil, err
	}
	if err := isImportable(release); err != nil {
		return nil, err
	}
	return release, nil
}

func fetchChecksumFile(ctx context.Context, url string) (map[string]string, error) {
	ret := make(map[string]string)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := getDefaultRetryableClient().Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_ = res.Body.Close()
		return nil, fmt.Errorf("could not fetch checksum file %s: %s", url, res.Status)
	}
	checksums, err := io.ReadAll(res.Body)
	_ = res.Body.Close()
	if err != nil {
		return nil, err
	}
	for _, l := range strings.Split(string(checksums), "\n") {
		fields := strings.Fields(l)
		if len(fields) < 2 {
			continue
		}
		ret[strings.ToLower(strings.TrimPrefix(fields[1], "*"))] = strings.ToLower(fields[0])
	}
	return ret, nil
}

// releaseArchive is the zip asset of a GitHub release that becomes
// releases/<stub>-<version>.zip.
type releaseArchive struct {
	Version  string
	FileName string
	URL      string
	Checksum string
}

// findReleaseArchive picks the zip asset for stub. Exact <stub>-<version>.zip
// or <stub>.zip names are preferred over other zip files prefixed with stub.
func findReleaseArchive(ctx context.Context, stub string, ghr *github.RepositoryRelease) (*releaseArchive, error) {
	v := semver.MustParse(ghr.GetTagName()).String()
	var (
		checksumMap map[string]string
		exact       *github.ReleaseAsset
		candidate   *github.ReleaseAsset
	)
	for _, asset := range ghr.Assets {
		fn := strings.ToLower(asset.GetName())
		if checksumMap == nil && asset.GetSize() <= 4096 && strings.Contains(fn, "checksums.txt") {
			csMap, err := fetchChecksumFile(ctx, asset.GetBrowserDownloadURL())
			if err != nil {
				return nil, err
			}
			checksumMap = csMap
			continue
		}
		switch {
		case fn == strings.ToLower(stub)+".zip" || fn == strings.ToLower(fmt.Sprintf("%s-%s.zip", stub, v)):
			exact = asset
		case candidate == nil && strings.HasSuffix(fn, ".zip") && strings.HasPrefix(fn, strings.ToLower(stub)):
			candidate = asset
		}
	}
	asset := exact
	if asset == nil {
		asset = candidate
	}
	if asset == nil {
		return nil, fmt.Errorf("release %s has no zip asset for %s", ghr.GetTagName(), stub)
	}
	ra := &releaseArchive{
		Version:  v,
		FileName: fmt.Sprintf("%s-%s.zip", stub, v),
		URL:      asset.GetBrowserDownloadURL(),
	}
	if checksumMap != nil {
		cs, ok := checksumMap[strings.ToLower(asset.GetName())]
		if !ok {
			return nil, fmt.Errorf("checksum file of release %s does not list %s", ghr.GetTagName(), asset.GetName())
		}
		ra.Checksum = cs
	}
	return ra, nil
}
