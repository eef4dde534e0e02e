// Package buildinfo holds the ldflags-injected build identity surfaced on
// GET /version and cmd/haulfsd's version command.
package buildinfo

import "runtime"

// These are set at build time via -ldflags, e.g.
// -X github.com/haulfs/haulfs/internal/buildinfo.Version=1.2.3
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info is the JSON-serializable snapshot returned by Get.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// Get returns the current build's identity.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
