package depgraph

import (
	"sort"
	"strings"

	"golang.org/x/mod/semver"
)

// CompareVersions orders module versions semantically: pre-releases sort
// below their release and "1.10.0" sorts above "1.9.0". Versions that are not
// valid semver sort below every valid one and are ordered lexically among
// themselves.
func CompareVersions(a, b string) int {
	ca, cb := canonical(a), canonical(b)
	switch {
	case ca != "" && cb != "":
		if c := semver.Compare(ca, cb); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	case ca != "":
		return 1
	case cb != "":
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func canonical(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}

// SortDescending sorts records newest first.
func SortDescending(records []VersionRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return CompareVersions(records[i].Version, records[j].Version) > 0
	})
}
