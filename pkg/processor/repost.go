package processor

import (
	"strings"

	"github.com/lumolead/postscore/pkg/models"
)

// detectRepost decides whether the post was authored by someone other than
// the lead. A self-repost (the lead resharing their own post) counts as
// original content even when the collector labels it a repost. When the
// post turns out to be the lead's own and no author URL was collected, the
// lead's profile URL is backfilled onto the enriched score.
func detectRepost(leadURL string, source models.Post, e *models.EnrichedScore) bool {
	leadID := publicID(leadURL)
	authorID := publicID(source.AuthorURL())

	sameAuthor := isSameAuthor(leadURL, source.AuthorURL(), leadID, authorID)
	explicitRepost := strings.EqualFold(strings.TrimSpace(source.Action()), "repost")

	var isRepost bool
	switch {
	case explicitRepost && sameAuthor:
		isRepost = false
	case explicitRepost:
		isRepost = true
	case leadID != "" && authorID != "":
		isRepost = leadID != authorID
	default:
		isRepost = !sameAuthor && source.AuthorURL() != ""
	}

	if !isRepost && e.AuthorURL == "" {
		e.AuthorURL = leadURL
	}
	return isRepost
}

// isSameAuthor compares public IDs when both are known, falling back to
// deeply normalised URL equality.
func isSameAuthor(leadURL, authorURL, leadID, authorID string) bool {
	if leadID != "" && authorID != "" {
		return leadID == authorID
	}
	if authorURL == "" {
		// No author information at all: treat as the lead's own post.
		return true
	}
	return deepNormalizeURL(leadURL) == deepNormalizeURL(authorURL)
}
