package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
)

const (
	Major = 0
	Minor = 3
	Patch = 0
	Meta  = "unstable"
)

const ClientName = "portalnode"

// Semantic is the semantic version string.
var Semantic = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

// WithMeta holds the textual version string including the metadata.
var WithMeta = func() string {
	v := Semantic
	if Meta != "" {
		v += "-" + Meta
	}
	return v
}()

const (
	ourPath = "github.com/zen-eth/portalnode"
)

// VCS returns the revision and commit time the binary was built from, when
// the go toolchain recorded them.
func VCS() (revision string, modified bool, ok bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false, false
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			modified = setting.Value == "true"
		}
	}
	if revision == "" {
		return "", false, false
	}
	return revision, modified, true
}

// WithCommit appends the short commit hash to the version.
func WithCommit() string {
	v := "v" + WithMeta
	revision, modified, ok := VCS()
	if !ok {
		return v
	}
	if len(revision) > 8 {
		revision = revision[:8]
	}
	v += "-" + revision
	if modified {
		v += "-dirty"
	}
	return v
}

// ClientInfo is the string advertised in the client info ping extension,
// formatted as name/version/os-arch/compiler.
func ClientInfo() string {
	return strings.Join([]string{
		ClientName,
		WithCommit(),
		runtime.GOOS + "-" + runtime.GOARCH,
		runtime.Version(),
	}, "/")
}

// Info returns the module path and version of the main module.
func Info() (path, version string) {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Path == "" {
		return ourPath, WithMeta
	}
	return info.Main.Path, info.Main.Version
}
