package meta

import (
	"fmt"
	"runtime"
	"strings"
)

// Info describes the build of a numlink binary. Everything but the Go
// runtime details is stamped in by the linker, see the vars below.
type Info struct {
	Version   string
	Build     string
	Branch    string
	BuildTime string
	Platform  string
	GoVersion string
	GoTag     string
}

// These will be filled in using the linker -X flag, e.g.
//
//	go build -ldflags "-X github.com/luma/numlink/internal/meta.Version=v0.3.0"
var (
	// Version as an arbitrary string, "dev" when unset
	Version string

	// Build is the Git sha from when we are building
	Build string

	// Branch is the Git branch that we are building from
	Branch string

	// BuildTimeUTC is the build time in UTC (year/month/day hour:min:sec)
	BuildTimeUTC string

	// GoTag is the Go build tags, see https://golang.org/pkg/go/build/#hdr-Build_Constraints
	GoTag string

	platform = fmt.Sprintf("%s %s", runtime.GOOS, runtime.GOARCH)
)

// GetInfo returns an Info struct populated with the build information.
func GetInfo() Info {
	return Info{
		GoVersion: runtime.Version(),
		Version:   CurrentVersion(),
		Build:     Build,
		Branch:    Branch,
		BuildTime: BuildTimeUTC,
		GoTag:     GoTag,
		Platform:  platform,
	}
}

// CurrentVersion is Version, or "dev" for unstamped builds.
func CurrentVersion() string {
	if Version == "" {
		return "dev"
	}
	return Version
}

// String renders the multi line report printed by `numlink version`.
func (i Info) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "numlink %s\n", i.Version)
	if i.Build != "" {
		fmt.Fprintf(&b, "  build:    %s (%s)\n", i.Build, i.Branch)
	}
	if i.BuildTime != "" {
		fmt.Fprintf(&b, "  built at: %s\n", i.BuildTime)
	}
	fmt.Fprintf(&b, "  platform: %s\n", i.Platform)
	fmt.Fprintf(&b, "  go:       %s", i.GoVersion)
	if i.GoTag != "" {
		fmt.Fprintf(&b, " (%s)", i.GoTag)
	}
	b.WriteString("\n")

	return b.String()
}
