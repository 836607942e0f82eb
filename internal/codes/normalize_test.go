package codes

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

type sectionCode string

func (s sectionCode) String() string { return string(s) }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"punctuation and case", "21 A.1!", "21a.1"},
		{"nil", nil, "none"},
		{"plus suffix", "8.73+", "8.73"},
		{"inner space", "8 73", "873"},
		{"underscore kept", "A_b-C", "a_bc"},
		{"integer", 5204, "5204"},
		{"float", 80.56, "80.56"},
		{"stringer", sectionCode("22500 (E)"), "22500e"},
		{"typed nil stringer", (*url.URL)(nil), "none"},
		{"nil slice", []string(nil), "none"},
		{"accented letters kept", "Ñ-12", "ñ12"},
		{"only separators", " +-/ ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	for _, s := range []string{"21 A.1!", "4000A1 VC", "8.73+", "80.69BS", "none", ""} {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), s)
	}
}
