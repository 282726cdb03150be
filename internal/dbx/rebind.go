package dbx

import (
	"strconv"
	"strings"
)

// Rebind rewrites '?' placeholders to '$1..$n' for drivers that use
// numbered parameters (pgx). Queries are written once in '?' style and
// rebound per driver. Question marks inside quoted literals are not
// handled; our queries never contain any.
func Rebind(driver, query string) string {
	if driver != "pgx" && driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
