package processor

import (
	"regexp"
	"strings"
)

var (
	activityIDPattern  = regexp.MustCompile(`activity[-/:](\d+)`)
	embeddedIDPattern  = regexp.MustCompile(`-(\d{10,})-`)
	publicIDPattern    = regexp.MustCompile(`linkedin\.com/in/([^/?#]+)`)
	recentActivityPath = regexp.MustCompile(`/recent-activity(/.*)?$`)
)

// normalizeURL canonicalises a post URL for use as a merge key: lowercase,
// no scheme or www, no query or fragment, no trailing slashes or
// underscores.
func normalizeURL(raw string) string {
	u := strings.ToLower(strings.TrimSpace(raw))
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "www.")
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.TrimRight(u, "/_")
}

// activityID extracts the LinkedIn activity identifier from a post URL,
// trying the explicit activity marker first and falling back to a long
// digit run embedded between hyphens.
func activityID(raw string) string {
	u := strings.ToLower(raw)
	if m := activityIDPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	if m := embeddedIDPattern.FindStringSubmatch(u); m != nil {
		return m[1]
	}
	return ""
}

// publicID extracts the profile slug from a linkedin.com/in/ URL.
func publicID(raw string) string {
	if m := publicIDPattern.FindStringSubmatch(strings.ToLower(raw)); m != nil {
		return strings.TrimRight(m[1], "/")
	}
	return ""
}

// deepNormalizeURL goes further than normalizeURL for author comparison:
// the recent-activity suffix profile links carry is also dropped.
func deepNormalizeURL(raw string) string {
	u := normalizeURL(raw)
	u = recentActivityPath.ReplaceAllString(u, "")
	return strings.TrimRight(u, "/")
}
