package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "trims whitespace", input: "  alice  ", want: "alice"},
		{name: "removes forbidden characters", input: "a<b>c'd\"e`f;g%h{i}j", want: "abcdefghij"},
		{name: "keeps ordinary punctuation", input: "user.name+tag@example.com", want: "user.name+tag@example.com"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeInput(tt.input))
		})
	}
}

func TestSanitizeInput_CapsLength(t *testing.T) {
	got := SanitizeInput(strings.Repeat("あ", 1200))
	assert.Equal(t, 1000, len([]rune(got)))
}

func TestStripMarkup(t *testing.T) {
	assert.Equal(t, "quota exceeded", StripMarkup("<b>quota</b> exceeded"))
	assert.Equal(t, "O'Brien & co", StripMarkup("O'Brien & co"))
	assert.Equal(t, "", StripMarkup("   "))
	assert.Equal(t, "a < b", StripMarkup("a &lt; b"))
}

func TestStripMarkup_EncodedTags(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"entity encoded", "&lt;b&gt;quota&lt;/b&gt; exceeded", "quota exceeded"},
		{"double encoded", "&amp;lt;script&amp;gt;alert(1)&amp;lt;/script&amp;gt;done", "done"},
		{"mixed", "<i>&lt;b&gt;x&lt;/b&gt;</i>", "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StripMarkup(tt.input)
			assert.Equal(t, tt.want, got)
			assert.NotContains(t, got, "<")
		})
	}
}

func TestContainsForbiddenChars(t *testing.T) {
	assert.True(t, ContainsForbiddenChars("a;b"))
	assert.False(t, ContainsForbiddenChars("plain-text_123"))
}
