package cmdrdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckCompatibilityRanges(t *testing.T) {
	cases := []struct {
		name      string
		version   string
		supported bool
		note      string
	}{
		{"missing", "", false, "not found"},
		{"below minimum", "v0.5.0", false, "below minimum"},
		{"supported", "v1.3.0", true, ""},
		{"newer than tested", "v99.0.0", true, "newer than last tested"},
		{"unparseable", "(devel)", false, "unrecognized"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := checkCompatibility(tc.version)
			assert.Equal(t, genaiModulePath, info.Library)
			assert.Equal(t, tc.version, info.Version)
			assert.Equal(t, tc.supported, info.Supported)
			if tc.note == "" {
				assert.Empty(t, info.Note)
			} else {
				assert.Contains(t, info.Note, tc.note)
			}
		})
	}
}

func TestCheckCompatibilityIsAdvisory(t *testing.T) {
	// Whatever the build reports, the probe must never panic or fail.
	info := CheckCompatibility()
	assert.Equal(t, genaiModulePath, info.Library)
	assert.Equal(t, info.Supported, IsSupported())
}
