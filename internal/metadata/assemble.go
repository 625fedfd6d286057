package metadata

import (
	"fmt"
	"html"
	"strings"

	"github.com/offgrid-updates/update-server/internal/readme"
	"github.com/offgrid-updates/update-server/internal/release"
	"github.com/offgrid-updates/update-server/internal/storage"
	"github.com/offgrid-updates/update-server/pkg/updates"
)

const (
	DefaultProfileBaseURL = "https://profiles.wordpress.org/"
	LastUpdatedLayout     = "2006-01-02 15:04:05"
)

// Input carries everything the assembler merges into one response.
type Input struct {
	Identifier string
	Readme     *readme.Record
	Header     *HeaderFacts
	Selection  *release.Selection
	// Release is the stat result of the selected archive.
	Release *storage.ObjectInfo
	// Assets holds the file names present in the assets directory.
	Assets map[string]bool
	// BaseURL is the public server URL without trailing slash.
	BaseURL        string
	ProfileBaseURL string
}

func (in *Input) releaseURL(fileName string) string {
	return fmt.Sprintf("%s/%s/%s", in.BaseURL, storage.ReleasesDir, fileName)
}

func (in *Input) assetURL(fileName string) string {
	return fmt.Sprintf("%s/%s/%s", in.BaseURL, storage.AssetsDir, fileName)
}

func (in *Input) profileURL(id string) string {
	base := in.ProfileBaseURL
	if base == "" {
		base = DefaultProfileBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + id
}

var assetExtensions = []string{".png", ".jpg"}

func assembleBanners(in *Input) *updates.Banners {
	b := &updates.Banners{}
	for _, ext := range assetExtensions {
		if name := "banner-722x250" + ext; in.Assets[name] {
			b.Low = in.assetURL(name)
		}
		if name := "banner-1544x500" + ext; in.Assets[name] {
			b.High = in.assetURL(name)
		}
	}
	if b.IsEmpty() {
		return nil
	}
	return b
}

// assembleIcons probes the icon variants in order; every variant found
// replaces the default, so the last one found wins.
func assembleIcons(in *Input) *updates.Icons {
	i := &updates.Icons{}
	for _, ext := range assetExtensions {
		if name := "icon-128x128" + ext; in.Assets[name] {
			i.OneX = in.assetURL(name)
			i.Default = i.OneX
		}
		if name := "icon-256x256" + ext; in.Assets[name] {
			i.TwoX = in.assetURL(name)
			i.Default = i.TwoX
		}
		if name := "icon.svg"; in.Assets[name] {
			i.SVG = in.assetURL(name)
			i.Default = i.SVG
		}
	}
	if i.IsEmpty() {
		return nil
	}
	return i
}

func assembleAuthor(h *HeaderFacts) string {
	if h == nil || h.Author == "" {
		return ""
	}
	if h.AuthorURI == "" {
		return h.Author
	}
	return fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(h.AuthorURI), html.EscapeString(h.Author))
}

// Assemble merges readme, plugin header and release facts into the
// response record.
func Assemble(in *Input) *updates.Metadata {
	sel := in.Selection
	m := &updates.Metadata{
		Slug:   sel.PluginStub,
		Plugin: in.Identifier,
	}

	if r := in.Readme; r != nil {
		m.Name = r.Name
		m.Tags = r.Tags
		m.Requires = r.Requires
		m.RequiresPHP = r.RequiresPHP
		m.Tested = r.Tested
		m.StableTag = r.StableTag
		m.License = r.License
		m.DonateLink = r.DonateLink
		m.ShortDescription = r.ShortDescription
		if r.Sections.Len() > 0 {
			m.Sections = r.Sections
		}
		if r.UpgradeNotice.Len() > 0 {
			m.UpgradeNotice = r.UpgradeNotice
		}
		if len(r.Contributors) > 0 {
			m.AuthorProfile = in.profileURL(r.Contributors[0])
			m.Contributors = updates.NewOrderedMap()
			for _, c := range r.Contributors {
				m.Contributors.Set(c, in.profileURL(c))
			}
		}
	}

	m.NewVersion = sel.Version
	if m.NewVersion == "" && in.Header != nil {
		m.NewVersion = in.Header.Version
	}
	m.Author = assembleAuthor(in.Header)
	if in.Header != nil {
		m.Homepage = in.Header.Homepage
	}

	m.DownloadLink = in.releaseURL(sel.FileName)
	m.Trunk = m.DownloadLink
	if in.Release != nil && !in.Release.ModTime.IsZero() {
		m.LastUpdated = in.Release.ModTime.UTC().Format(LastUpdatedLayout)
	}

	m.Versions = updates.NewOrderedMap()
	m.Versions.Set("trunk", m.DownloadLink)
	for _, v := range sel.SortedVersions() {
		m.Versions.Set(v, in.releaseURL(sel.Versions[v]))
	}

	m.Banners = assembleBanners(in)
	m.Icons = assembleIcons(in)
	return m
}
