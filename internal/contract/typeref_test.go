package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTypeRef(t *testing.T) {
	tests := []struct {
		in      string
		slug    string
		version string
		wantErr bool
	}{
		{"card@1.0.0", "card", "1.0.0", false},
		{"card", "card", "", false},
		{"card@latest", "card", "", false},
		{"card@1.0", "card", "1.0", false},
		{"@1.0.0", "", "", true},
		{"card@not-a-version", "", "", true},
		{"", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParseTypeRef(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.slug, ref.Slug)
			assert.Equal(t, tt.version, ref.Version)
		})
	}
}

func TestTypeRef_Matches(t *testing.T) {
	ref := MustParseTypeRef("card@1.0")
	assert.True(t, ref.Matches("card", "1.0.0"))
	assert.False(t, ref.Matches("card", "1.1.0"))
	assert.False(t, ref.Matches("user", "1.0.0"))

	latest := MustParseTypeRef("card")
	assert.True(t, latest.Matches("card", "9.9.9"))
	assert.Equal(t, "card@latest", latest.String())
}

func TestHighestVersion(t *testing.T) {
	assert.Equal(t, 2, HighestVersion([]string{"1.0.0", "1.2.0", "1.10.0", "bogus"}))
	assert.Equal(t, -1, HighestVersion([]string{"bogus"}))
}
