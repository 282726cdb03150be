package prepare

import (
	"regexp"
	"strings"
)

var (
	numberPattern = regexp.MustCompile(`\d+`)

	navLinkPattern      = regexp.MustCompile(`<!-- wp:navigation-link \{.*?\} /-->`)
	navLinkAttrsPattern = regexp.MustCompile(`<!-- wp:navigation-link (\{.*?\}) /-->`)

	scaledPattern = regexp.MustCompile(`-scaled(\.[A-Za-z0-9]+)$`)
)

// replaceGroups rewrites capture group 1 of every match through fn,
// leaving the rest of the match intact.
func replaceGroups(pattern *regexp.Regexp, body string, fn func(group string) string) string {
	matches := pattern.FindAllStringSubmatchIndex(body, -1)
	if matches == nil {
		return body
	}

	var b strings.Builder
	b.Grow(len(body))
	last := 0
	for _, m := range matches {
		// m[2], m[3] delimit capture group 1
		if m[2] < 0 {
			continue
		}
		b.WriteString(body[last:m[2]])
		b.WriteString(fn(body[m[2]:m[3]]))
		last = m[3]
	}
	b.WriteString(body[last:])
	return b.String()
}

// stripScaledSuffix removes the "-scaled" variant marker before the file
// extension.
func stripScaledSuffix(path string) string {
	return scaledPattern.ReplaceAllString(path, "$1")
}

// baseName is the final path segment.
func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
