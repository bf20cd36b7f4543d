package manifest

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// minVersionPattern is the only requirement syntax the host understands.
var minVersionPattern = regexp.MustCompile(`^>=\s*(\d+\.\d+\.\d+)$`)

// CheckEngineCompatibility reports whether hostVersion satisfies the
// manifest's engines.host requirement.
//
// Only ">=X.Y.Z" is parsed and compared component-wise on the numeric
// triple; prerelease suffixes are ignored. A missing requirement, any other
// syntax, or an unparsable host version is treated as compatible.
func CheckEngineCompatibility(m *Manifest, hostVersion string) bool {
	req := strings.TrimSpace(m.Engines.Host)
	if req == "" {
		return true
	}
	match := minVersionPattern.FindStringSubmatch(req)
	if match == nil {
		return true
	}

	minimum, err := semver.NewVersion(match[1])
	if err != nil {
		return true
	}
	host, err := semver.NewVersion(strings.TrimSpace(hostVersion))
	if err != nil {
		return true
	}

	return compareTriple(host, minimum) >= 0
}

func compareTriple(a, b *semver.Version) int {
	parts := [][2]uint64{
		{a.Major(), b.Major()},
		{a.Minor(), b.Minor()},
		{a.Patch(), b.Patch()},
	}
	for _, p := range parts {
		switch {
		case p[0] < p[1]:
			return -1
		case p[0] > p[1]:
			return 1
		}
	}
	return 0
}
