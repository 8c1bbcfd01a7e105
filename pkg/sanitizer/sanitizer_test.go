package sanitizer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskhive/notifier/pkg/sanitizer"
)

func TestStripActiveMarkup(t *testing.T) {
	t.Parallel()

	t.Run("removes script tags with content", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.StripActiveMarkup(`before<script>alert("x")</script>after`)
		assert.Equal(t, "beforeafter", got)
	})

	t.Run("removes event handlers", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.StripActiveMarkup(`<img src="x.png" onerror="steal()">`)
		assert.NotContains(t, got, "onerror")
		assert.NotContains(t, got, "steal")
	})

	t.Run("removes javascript protocol", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.StripActiveMarkup(`<a href="javascript:run()">link</a>`)
		assert.NotContains(t, strings.ToLower(got), "javascript:")
	})

	t.Run("case insensitive", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.StripActiveMarkup(`<SCRIPT>x</SCRIPT>`)
		assert.Equal(t, "", got)
	})
}

func TestEscapeWithInlineFormatting(t *testing.T) {
	t.Parallel()

	t.Run("escapes arbitrary markup", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.EscapeWithInlineFormatting(`<div class="x">text</div>`)
		assert.NotContains(t, got, "<div")
		assert.Contains(t, got, "&lt;div")
	})

	t.Run("preserves inline subset", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.EscapeWithInlineFormatting("a <b>bold</b> and <em>em</em> word<br>")
		assert.Contains(t, got, "<b>bold</b>")
		assert.Contains(t, got, "<em>em</em>")
		assert.Contains(t, got, "<br>")
	})

	t.Run("does not preserve script even if lowercase", func(t *testing.T) {
		t.Parallel()

		got := sanitizer.EscapeWithInlineFormatting("<script>x</script>")
		assert.NotContains(t, got, "<script>")
	})
}

func TestRemoveControlSequences(t *testing.T) {
	t.Parallel()

	got := sanitizer.RemoveControlSequences("a\x1b[31mred\x1b[0mb\x07")
	assert.Equal(t, "aredb", got)

	// Whitespace control characters survive.
	assert.Equal(t, "a\nb\tc", sanitizer.RemoveControlSequences("a\nb\tc"))
}

func TestLimitLength(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc", sanitizer.LimitLength("abcdef", 3))
	assert.Equal(t, "abc", sanitizer.LimitLength("abc", 10))
	assert.Equal(t, "", sanitizer.LimitLength("abc", 0))

	// Rune-aware truncation.
	assert.Equal(t, "hél", sanitizer.LimitLength("héllo", 3))
}

func TestContent(t *testing.T) {
	t.Parallel()

	got := sanitizer.Content("  <b>Task</b> <script>x()</script>assigned\x00 ")
	assert.Equal(t, "<b>Task</b> assigned", got)
}
