package prepare

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"contentsync/internal/nodectx"
)

// Dynamic-string tokens. A node's own URLs and theme name in a body would
// break the moment the unit lands on a different domain, so they travel
// as named placeholders and are re-internalized at import.
const (
	TokenSiteURL       = "{{site_url}}"
	TokenSiteURLEnc    = "{{site_url_enc}}"
	TokenSiteURLEnc2   = "{{site_url_enc2}}"
	TokenUploadURL     = "{{upload_url}}"
	TokenUploadURLEnc  = "{{upload_url_enc}}"
	TokenUploadURLEnc2 = "{{upload_url_enc2}}"
	TokenTheme         = "{{theme}}"
)

// ContentPlaceholder is the placeholder form of a nested content id.
func ContentPlaceholder(id int64) string {
	return "{{" + strconv.FormatInt(id, 10) + "}}"
}

// TermPlaceholder is the placeholder form of a nested term id.
func TermPlaceholder(id int64) string {
	return "{{term_" + strconv.FormatInt(id, 10) + "}}"
}

// Externalize replaces a node's dynamic strings with tokens. The upload
// URL is handled before the site URL because it usually nests inside it;
// each URL is matched in double-encoded, encoded, and plain form for the
// same reason.
func Externalize(body string, node *nodectx.Node) string {
	pairs := dynamicPairs(node)
	for _, p := range pairs {
		if p.value == "" {
			continue
		}
		body = strings.ReplaceAll(body, p.value, p.token)
	}
	return body
}

// Internalize resolves tokens back to a destination node's own values.
func Internalize(body string, node *nodectx.Node) string {
	for _, p := range dynamicPairs(node) {
		body = strings.ReplaceAll(body, p.token, p.value)
	}
	return body
}

// ReplaceContentPlaceholders rewrites every content-id placeholder to
// the id resolve returns. A placeholder resolve declines stays in the
// body untouched.
func ReplaceContentPlaceholders(body string, resolve func(id int64) (int64, bool)) string {
	return resolvePlaceholders(placeholderPattern, body, resolve)
}

// ReplaceTermPlaceholders rewrites every term-id placeholder via resolve.
func ReplaceTermPlaceholders(body string, resolve func(id int64) (int64, bool)) string {
	return resolvePlaceholders(termPlaceholderPattern, body, resolve)
}

func resolvePlaceholders(pattern *regexp.Regexp, body string, resolve func(id int64) (int64, bool)) string {
	return pattern.ReplaceAllStringFunc(body, func(m string) string {
		sub := pattern.FindStringSubmatch(m)
		id, err := strconv.ParseInt(sub[1], 10, 64)
		if err != nil {
			return m
		}
		mapped, ok := resolve(id)
		if !ok {
			return m
		}
		return strconv.FormatInt(mapped, 10)
	})
}

type dynamicPair struct {
	token string
	value string
}

func dynamicPairs(node *nodectx.Node) []dynamicPair {
	enc := url.QueryEscape
	return []dynamicPair{
		// longest/most-specific first so plain forms never shadow
		// the encoded ones
		{TokenUploadURLEnc2, enc(enc(node.UploadURL))},
		{TokenUploadURLEnc, enc(node.UploadURL)},
		{TokenUploadURL, node.UploadURL},
		{TokenSiteURLEnc2, enc(enc(node.SiteURL))},
		{TokenSiteURLEnc, enc(node.SiteURL)},
		{TokenSiteURL, node.SiteURL},
		{TokenTheme, node.Theme},
	}
}
