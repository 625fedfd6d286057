package updates

// Metadata is the record returned by the update server for a single plugin.
// Every optional field is omitted from the JSON encoding when unknown.
type Metadata struct {
	Name             string      `json:"name,omitempty"`
	Tags             []string    `json:"tags,omitempty"`
	Requires         string      `json:"requires,omitempty"`
	RequiresPHP      string      `json:"requires_php,omitempty"`
	Tested           string      `json:"tested,omitempty"`
	StableTag        string      `json:"stable_tag,omitempty"`
	License          string      `json:"license,omitempty"`
	Contributors     *OrderedMap `json:"contributors,omitempty"`
	DonateLink       string      `json:"donate_link,omitempty"`
	ShortDescription string      `json:"short_description,omitempty"`
	UpgradeNotice    *OrderedMap `json:"upgrade_notice,omitempty"`
	NewVersion       string      `json:"new_version,omitempty"`
	Author           string      `json:"author,omitempty"`
	AuthorProfile    string      `json:"author_profile,omitempty"`
	DownloadLink     string      `json:"download_link"`
	LastUpdated      string      `json:"last_updated,omitempty"`
	Trunk            string      `json:"trunk,omitempty"`
	Homepage         string      `json:"homepage,omitempty"`
	Versions         *OrderedMap `json:"versions,omitempty"`
	Slug             string      `json:"slug"`
	Plugin           string      `json:"plugin"`
	Sections         *OrderedMap `json:"sections,omitempty"`
	Banners          *Banners    `json:"banners,omitempty"`
	Icons            *Icons      `json:"icons,omitempty"`
}

type Banners struct {
	Low  string `json:"low,omitempty"`
	High string `json:"high,omitempty"`
}

func (b *Banners) IsEmpty() bool {
	return b == nil || (b.Low == "" && b.High == "")
}

type Icons struct {
	OneX    string `json:"1x,omitempty"`
	TwoX    string `json:"2x,omitempty"`
	SVG     string `json:"svg,omitempty"`
	Default string `json:"default,omitempty"`
}

func (i *Icons) IsEmpty() bool {
	return i == nil || (i.OneX == "" && i.TwoX == "" && i.SVG == "" && i.Default == "")
}

// Availability describes a pending update in the shape a host update
// manager merges into its update-check results.
type Availability struct {
	Slug        string `json:"slug"`
	Plugin      string `json:"plugin"`
	NewVersion  string `json:"new_version"`
	Tested      string `json:"tested,omitempty"`
	Requires    string `json:"requires,omitempty"`
	RequiresPHP string `json:"requires_php,omitempty"`
	Package     string `json:"package"`
	URL         string `json:"url,omitempty"`
	Icons       *Icons `json:"icons,omitempty"`
}

func NewAvailability(m *Metadata) *Availability {
	a := &Availability{
		Slug:        m.Slug,
		Plugin:      m.Plugin,
		NewVersion:  m.NewVersion,
		Tested:      m.Tested,
		Requires:    m.Requires,
		RequiresPHP: m.RequiresPHP,
		Package:     m.DownloadLink,
		URL:         m.Homepage,
	}
	if !m.Icons.IsEmpty() {
		a.Icons = m.Icons
	}
	return a
}
