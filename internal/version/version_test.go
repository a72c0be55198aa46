package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		version string
		target  string
		gte     bool
		gt      bool
	}{
		{"0.1.0", "0.1.0", true, false},
		{"0.2.0", "0.1.9", true, true},
		{"0.1.0", "0.10.0", false, false},
		{"1.0.0", "0.99.99", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.version+"_"+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.gte, IsVersionGreaterOrEqualThan(tt.version, tt.target))
			assert.Equal(t, tt.gt, IsVersionGreaterThan(tt.version, tt.target))
		})
	}
}

func TestString(t *testing.T) {
	original := GitCommit
	defer func() { GitCommit = original }()

	GitCommit = "unknown"
	assert.Equal(t, Version, String())

	GitCommit = "0123456789abcdef"
	assert.Equal(t, Version+"-01234567", String())
}

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
}
