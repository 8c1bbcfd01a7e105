// Package sanitizer prepares untrusted display content for interpolation into
// rendered notification templates.
//
// The Content pipeline strips active markup (scripts, event handlers,
// javascript: URLs), escapes everything else, and then restores a constrained
// inline-formatting subset (b, i, em, strong, br). Individual steps are
// exported for callers with different trust boundaries.
package sanitizer
