package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	v, sha, bt := Version, GitSHA, BuildTime
	t.Cleanup(func() { Version, GitSHA, BuildTime = v, sha, bt })

	Version, GitSHA, BuildTime = "0.4.1", "a1b2c3d", "2026-10-01T08:00:00Z"
	assert.Equal(t, "floatbase 0.4.1 (a1b2c3d, built 2026-10-01T08:00:00Z)", String("floatbase"))
}
