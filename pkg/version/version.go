package version

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

func components(v string) []uint64 {
	parts := strings.Split(v, ".")
	ret := make([]uint64, len(parts))
	for i, p := range parts {
		// empty or overflowing components count as zero
		n, err := strconv.ParseUint(p, 10, 64)
		if err == nil {
			ret[i] = n
		}
	}
	return ret
}

// Compare compares two dot separated numeric versions component by component.
// The shorter version is padded with zeros, so "2.0" equals "2.0.0".
// It returns -1, 0 or 1.
func Compare(a, b string) int {
	ac, bc := components(a), components(b)
	n := max(len(ac), len(bc))
	for i := 0; i < n; i++ {
		var x, y uint64
		if i < len(ac) {
			x = ac[i]
		}
		if i < len(bc) {
			y = bc[i]
		}
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
	}
	return 0
}

// Less orders versions ascending. Equal versions ("2.0" and "2.0.0") are
// ordered by their text so the result does not depend on input order.
func Less(a, b string) bool {
	if c := Compare(a, b); c != 0 {
		return c < 0
	}
	return a < b
}

// Max returns the greatest version of the list, or an empty string.
func Max(versions []string) string {
	latest := ""
	for _, v := range versions {
		if latest == "" || Less(latest, v) {
			latest = v
		}
	}
	return latest
}

// SatisfiesMinimum reports whether hostVersion meets the minimum requirement.
// An empty requirement is always satisfied.
func SatisfiesMinimum(hostVersion, minimum string) bool {
	if minimum == "" {
		return true
	}
	if hostVersion == "" {
		return false
	}
	constraint, cErr := semver.NewConstraint(">= " + minimum)
	host, hErr := semver.NewVersion(hostVersion)
	if cErr == nil && hErr == nil {
		return constraint.Check(host)
	}
	// versions with more than three components are not semver
	return Compare(hostVersion, minimum) >= 0
}
