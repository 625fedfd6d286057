package readme

import (
	"bufio"
	"bytes"
	"regexp"
	"strings"

	"github.com/offgrid-updates/update-server/pkg/updates"
)

// Record is the normalized content of a plugin readme.txt.
// Header fields missing from the document are left empty.
type Record struct {
	Name             string
	ShortDescription string
	Contributors     []string
	DonateLink       string
	Tags             []string
	Requires         string
	RequiresPHP      string
	Tested           string
	StableTag        string
	License          string
	LicenseURI       string
	Sections         *updates.OrderedMap
	UpgradeNotice    *updates.OrderedMap
}

const upgradeNoticeSection = "upgrade_notice"

var (
	nameRe       = regexp.MustCompile(`^===\s*(.+?)\s*===$`)
	sectionRe    = regexp.MustCompile(`^==\s*([^=\s].*?)\s*==$`)
	headerRe     = regexp.MustCompile(`^([A-Za-z][A-Za-z ]*?)\s*:\s*(.*)$`)
	subsectionRe = regexp.MustCompile(`^=\s*([^=\s].*?)\s*=$`)
)

type headerSetter func(r *Record, value string)

var headers = map[string]headerSetter{
	"contributors":      func(r *Record, v string) { r.Contributors = splitList(v) },
	"donate link":       func(r *Record, v string) { r.DonateLink = v },
	"tags":              func(r *Record, v string) { r.Tags = splitList(v) },
	"requires at least": func(r *Record, v string) { r.Requires = v },
	"requires php":      func(r *Record, v string) { r.RequiresPHP = v },
	"tested up to":      func(r *Record, v string) { r.Tested = v },
	"stable tag":        func(r *Record, v string) { r.StableTag = v },
	"license":           func(r *Record, v string) { r.License = v },
	"license uri":       func(r *Record, v string) { r.LicenseURI = v },
}

// splitList splits a comma separated header value, dropping empty tokens and
// exact duplicates while keeping the original order.
func splitList(v string) []string {
	seen := make(map[string]bool)
	ret := make([]string, 0)
	for _, token := range strings.Split(v, ",") {
		token = strings.TrimSpace(token)
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		ret = append(ret, token)
	}
	if len(ret) == 0 {
		return nil
	}
	return ret
}

func sectionKey(title string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(title)), " ", "_")
}

type section struct {
	key   string
	lines []string
}

func (s *section) body() string {
	return strings.TrimSpace(strings.Join(s.lines, "\n"))
}

// Parse reads a readme document. It never fails: malformed or truncated input
// results in a record with the unrecognized parts left empty.
func Parse(document []byte) *Record {
	r := &Record{}
	var (
		sections    []*section
		current     *section
		shortDesc   []string
		seenHeaders = make(map[string]bool)
		nameAllowed = true
	)

	scanner := bufio.NewScanner(bytes.NewReader(document))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(strings.TrimPrefix(line, "\ufeff"))

		if m := sectionRe.FindStringSubmatch(trimmed); m != nil {
			current = &section{key: sectionKey(m[1])}
			sections = append(sections, current)
			continue
		}
		if current != nil {
			current.lines = append(current.lines, line)
			continue
		}

		// everything before the first section: name, headers, short description
		if trimmed == "" {
			continue
		}
		if nameAllowed {
			nameAllowed = false
			if m := nameRe.FindStringSubmatch(trimmed); m != nil {
				r.Name = m[1]
				continue
			}
		}
		if m := headerRe.FindStringSubmatch(trimmed); m != nil {
			key := strings.ToLower(m[1])
			if setter, ok := headers[key]; ok {
				value := strings.TrimSpace(m[2])
				if !seenHeaders[key] && value != "" {
					seenHeaders[key] = true
					setter(r, value)
				}
				continue
			}
		}
		shortDesc = append(shortDesc, trimmed)
	}

	r.ShortDescription = strings.Join(shortDesc, " ")

	for _, s := range sections {
		if s.key == "" {
			continue
		}
		if s.key == upgradeNoticeSection {
			parseUpgradeNotice(r, s.lines)
			continue
		}
		if r.Sections == nil {
			r.Sections = updates.NewOrderedMap()
		}
		if existing, ok := r.Sections.Get(s.key); ok {
			r.Sections.Set(s.key, strings.TrimSpace(existing+"\n\n"+s.body()))
			continue
		}
		r.Sections.Set(s.key, s.body())
	}
	return r
}

func parseUpgradeNotice(r *Record, lines []string) {
	var (
		version string
		body    []string
	)
	flush := func() {
		if version == "" {
			return
		}
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text == "" {
			return
		}
		if r.UpgradeNotice == nil {
			r.UpgradeNotice = updates.NewOrderedMap()
		}
		if _, ok := r.UpgradeNotice.Get(version); !ok {
			r.UpgradeNotice.Set(version, text)
		}
	}
	for _, line := range lines {
		if m := subsectionRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush()
			version, body = m[1], nil
			continue
		}
		body = append(body, line)
	}
	flush()
}
