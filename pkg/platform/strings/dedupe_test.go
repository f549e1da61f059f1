package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	t.Run("removes duplicates preserving first occurrence", func(t *testing.T) {
		got := DedupeAndTrim([]string{"a@x.com", "b@x.com", "a@x.com"})
		assert.Equal(t, []string{"a@x.com", "b@x.com"}, got)
	})

	t.Run("drops empty and whitespace-only values", func(t *testing.T) {
		got := DedupeAndTrim([]string{"", "  ", "111", ""})
		assert.Equal(t, []string{"111"}, got)
	})

	t.Run("trims before comparing", func(t *testing.T) {
		got := DedupeAndTrim([]string{" 111 ", "111", "222"})
		assert.Equal(t, []string{"111", "222"}, got)
	})

	t.Run("empty input passes through", func(t *testing.T) {
		assert.Empty(t, DedupeAndTrim(nil))
	})
}
