package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetMinorVersion(t *testing.T) {
	assert.Equal(t, "0.3", GetMinorVersion("0.3.1"))
	assert.Equal(t, "", GetMinorVersion("7"))
}

func TestVersionCompare(t *testing.T) {
	assert.True(t, IsVersionGreaterOrEqualThan("0.3.0", "0.3.0"))
	assert.True(t, IsVersionGreaterOrEqualThan("0.3.0-dev", "0.2.9"))
	assert.False(t, IsVersionGreaterThan("0.2.0", "0.3.0"))
	assert.True(t, IsVersionGreaterThan("1.0.0", "0.9.12"))
}

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
}
