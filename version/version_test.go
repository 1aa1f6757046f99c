package version

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBuildInfoNeverReturnsNil(t *testing.T) {
	info := GetBuildInfo()
	require.NotNil(t, info)
	assert.NotEmpty(t, info.GoVersion)
}

func TestGetBuildInfoDependenciesAreSortedByPath(t *testing.T) {
	info := GetBuildInfo()
	paths := make([]string, len(info.Dependencies))
	for i, d := range info.Dependencies {
		paths[i] = d.Path
	}
	assert.True(t, sort.StringsAreSorted(paths))
}

func TestGetDependencyReturnsNilForUnknownModule(t *testing.T) {
	assert.Nil(t, GetDependency("example.com/definitely/not/a/real/module"))
}
