package metadata

import (
	"regexp"
	"strings"
)

// headerScanLimit is how much of the main plugin file is searched for
// header fields. Headers live in the leading comment block.
const headerScanLimit = 8 * 1024

// HeaderFacts are the fields of the main plugin file's header comment.
type HeaderFacts struct {
	Version   string
	Author    string
	AuthorURI string
	Homepage  string
}

const headerPrefix = `(?m)^[ \t/*#@]*`

var (
	headerVersionRe   = regexp.MustCompile(headerPrefix + `Version:\s*([0-9.]+)`)
	headerAuthorRe    = regexp.MustCompile(headerPrefix + `Author:[ \t]*(.+?)[ \t]*$`)
	headerAuthorURIRe = regexp.MustCompile(headerPrefix + `Author URI:[ \t]*(.+?)[ \t]*$`)
	headerHomepageRe  = regexp.MustCompile(headerPrefix + `Plugin URI:[ \t]*(.+?)[ \t]*$`)
)

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// ParseHeader extracts the header facts from the main plugin source file.
func ParseHeader(source []byte) *HeaderFacts {
	if len(source) > headerScanLimit {
		source = source[:headerScanLimit]
	}
	s := strings.ReplaceAll(string(source), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return &HeaderFacts{
		Version:   firstMatch(headerVersionRe, s),
		Author:    firstMatch(headerAuthorRe, s),
		AuthorURI: firstMatch(headerAuthorURIRe, s),
		Homepage:  firstMatch(headerHomepageRe, s),
	}
}
