package processor

import (
	"github.com/lumolead/postscore/pkg/models"
)

// mergeResults joins the model's scores back onto the source posts. The
// primary key is the normalised post URL; when that misses, the LinkedIn
// activity ID serves as a secondary key (collectors and models disagree on
// URL casing and trailing decoration more often than on the activity ID).
func mergeResults(scores []models.AIScore, posts []models.Post, leadURL string) []models.EnrichedScore {
	byURL := make(map[string]models.Post, len(posts))
	byActivity := make(map[string]models.Post, len(posts))
	for _, p := range posts {
		url := p.URL()
		if url == "" {
			continue
		}
		norm := normalizeURL(url)
		if _, dup := byURL[norm]; !dup {
			byURL[norm] = p
		}
		if id := activityID(url); id != "" {
			if _, dup := byActivity[id]; !dup {
				byActivity[id] = p
			}
		}
	}

	enriched := make([]models.EnrichedScore, 0, len(scores))
	for _, score := range scores {
		e := models.EnrichedScore{AIScore: score}

		source, found := byURL[normalizeURL(score.PostURL)]
		if !found {
			if id := activityID(score.PostURL); id != "" {
				source, found = byActivity[id]
			}
		}

		if found {
			// Prefer the source post's content; the model sometimes echoes
			// a truncated copy.
			e.PostContent = source.Content()
			e.PostDate = source.Date()
			e.AuthorURL = source.AuthorURL()
			e.AuthorName = source.AuthorName()
			e.IsRepost = detectRepost(leadURL, source, &e)
		}
		if e.PostContent == "" {
			// No source post matched (or it carried no body); keep what the
			// model echoed rather than serializing an empty content field.
			e.PostContent = score.EchoedContent
		}

		enriched = append(enriched, e)
	}
	return enriched
}
