package build

import (
	"runtime"
	"strings"

	"github.com/corepm/corepm/manifest"
)

// compatible reports whether m's "os"/"cpu" fields (§4.L "content_flags.is_compatible")
// permit building on the current platform. Each field is either an inclusion
// list ("only these platforms") or, if every entry is "!"-prefixed, an
// exclusion list ("all but these") — the usual npm convention; an absent or
// empty list matches anything.
func compatible(m manifest.Manifest) bool {
	return matchesList(m.OS, nodeOS(runtime.GOOS)) && matchesList(m.CPU, nodeCPU(runtime.GOARCH))
}

func matchesList(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	exclude := false
	for _, e := range list {
		if strings.HasPrefix(e, "!") {
			exclude = true
			break
		}
	}
	if exclude {
		for _, e := range list {
			if strings.TrimPrefix(e, "!") == value {
				return false
			}
		}
		return true
	}
	for _, e := range list {
		if e == value {
			return true
		}
	}
	return false
}

// nodeOS and nodeCPU translate Go's GOOS/GOARCH into the vocabulary npm's
// "os"/"cpu" manifest fields use (mirrors lockfile's platform-condition
// translation, applied here to package manifests instead of lockfile
// conditions).
func nodeOS(goos string) string {
	if goos == "windows" {
		return "win32"
	}
	return goos
}

func nodeCPU(goarch string) string {
	switch goarch {
	case "amd64":
		return "x64"
	case "386":
		return "ia32"
	default:
		return goarch
	}
}
