package buildinfo_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haulfs/haulfs/internal/buildinfo"
)

func TestGetReflectsRuntimeAndLdflagsVars(t *testing.T) {
	info := buildinfo.Get()

	require.Equal(t, buildinfo.Version, info.Version)
	require.Equal(t, buildinfo.Commit, info.Commit)
	require.Equal(t, buildinfo.Date, info.Date)
	require.Equal(t, runtime.Version(), info.GoVersion)
	require.Equal(t, runtime.GOOS, info.OS)
	require.Equal(t, runtime.GOARCH, info.Arch)
}
