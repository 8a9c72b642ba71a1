// Package wiki validates Wikipedia article URLs and fetches article
// plaintext through the MediaWiki action API.
package wiki

import (
	"net/url"
	"regexp"
	"strings"
)

// hostPattern matches the hosts accepted as Wikipedia article sources.
var hostPattern = regexp.MustCompile(`^([a-z]{2,3}\.)?wikipedia\.org$`)

// IsArticleURL reports whether raw looks like a Wikipedia article URL:
// an http or https URL on a wikipedia.org host with a /wiki/<title> path.
func IsArticleURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !hostPattern.MatchString(strings.ToLower(u.Hostname())) {
		return false
	}
	return strings.HasPrefix(u.Path, "/wiki/") && len(u.Path) > len("/wiki/")
}

// TitleFromURL extracts the human-readable article title from an article
// URL. Underscores become spaces and percent-encoding is decoded. Returns
// an empty string when the URL is not an article URL.
func TitleFromURL(raw string) string {
	if !IsArticleURL(raw) {
		return ""
	}
	u, _ := url.Parse(raw)
	title := strings.TrimPrefix(u.Path, "/wiki/")
	if decoded, err := url.PathUnescape(title); err == nil {
		title = decoded
	}
	return strings.ReplaceAll(title, "_", " ")
}

// APIBaseForURL returns the MediaWiki API base URL for the article's
// language edition, e.g. "https://en.wikipedia.org/w/api.php".
func APIBaseForURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return "https://" + u.Hostname() + "/w/api.php"
}
