package sanitizer

import (
	"fmt"
	"html"
	"regexp"
	"strings"
	"unicode"
)

var (
	scriptTagRe  = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script>`)
	styleTagRe   = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style>`)
	eventAttrRe  = regexp.MustCompile(`(?i)\s*on\w+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`)
	jsProtocolRe = regexp.MustCompile(`(?i)javascript\s*:`)
	ansiEscapeRe = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)
)

// inlineTags is the constrained formatting subset preserved by
// EscapeWithInlineFormatting. Anything outside this list is escaped.
var inlineTags = []string{"b", "i", "em", "strong", "br"}

// StripActiveMarkup removes script and style blocks, inline event handlers,
// and javascript: protocol references. It does not escape the remaining
// markup; combine with EscapeWithInlineFormatting for untrusted input.
func StripActiveMarkup(s string) string {
	result := scriptTagRe.ReplaceAllString(s, "")
	result = styleTagRe.ReplaceAllString(result, "")
	result = eventAttrRe.ReplaceAllString(result, "")
	result = jsProtocolRe.ReplaceAllString(result, "")
	return result
}

// EscapeWithInlineFormatting HTML-escapes the input, then restores a small
// allowlist of inline formatting tags (b, i, em, strong, br) so user-authored
// emphasis survives template interpolation while everything else is inert.
func EscapeWithInlineFormatting(s string) string {
	result := html.EscapeString(s)
	for _, tag := range inlineTags {
		// Opening and closing forms; <br> also appears self-closed.
		result = strings.ReplaceAll(result, fmt.Sprintf("&lt;%s&gt;", tag), fmt.Sprintf("<%s>", tag))
		result = strings.ReplaceAll(result, fmt.Sprintf("&lt;/%s&gt;", tag), fmt.Sprintf("</%s>", tag))
		result = strings.ReplaceAll(result, fmt.Sprintf("&lt;%s/&gt;", tag), fmt.Sprintf("<%s/>", tag))
	}
	return result
}

// RemoveControlSequences removes ANSI escape sequences and control characters
// except newline, carriage return, and tab.
func RemoveControlSequences(s string) string {
	result := ansiEscapeRe.ReplaceAllString(s, "")

	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, result)
}

// RemoveNullBytes removes null bytes from the input.
func RemoveNullBytes(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// LimitLength truncates input to at most maxLength runes.
func LimitLength(s string, maxLength int) string {
	if maxLength <= 0 {
		return ""
	}

	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}

	return string(runes[:maxLength])
}

// maxContentLength bounds interpolated content to keep rendered emails sane.
const maxContentLength = 10000

// Content prepares an untrusted display string for interpolation into a
// rendered template: strips active markup, escapes the rest while keeping the
// inline formatting subset, drops control characters, and bounds the length.
func Content(s string) string {
	result := RemoveNullBytes(s)
	result = RemoveControlSequences(result)
	result = StripActiveMarkup(result)
	result = EscapeWithInlineFormatting(result)
	result = strings.TrimSpace(result)
	return LimitLength(result, maxContentLength)
}
