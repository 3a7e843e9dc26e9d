package processor

import (
	"strconv"
	"strings"

	"github.com/lumolead/postscore/pkg/models"
)

// formatTopScoringPost renders the human-readable summary block stored on
// the lead. Reposts get a banner naming the original author so reviewers
// don't attribute the content to the lead.
func formatTopScoringPost(winner models.EnrichedScore) string {
	var sb strings.Builder
	sb.WriteString("Date: ")
	sb.WriteString(winner.PostDate)
	sb.WriteString("\nURL: ")
	sb.WriteString(winner.PostURL)
	sb.WriteString("\nScore: ")
	sb.WriteString(strconv.Itoa(winner.PostScore))
	sb.WriteString("\n")
	if winner.IsRepost {
		sb.WriteString("REPOST - ORIGINAL AUTHOR: ")
		sb.WriteString(winner.AuthorURL)
		sb.WriteString("\n")
	}
	sb.WriteString("Content: ")
	sb.WriteString(winner.PostContent)
	sb.WriteString("\nRationale: ")
	sb.WriteString(winner.ScoringRationale)
	return sb.String()
}

// pickWinner selects the highest-scoring post; the first occurrence wins on
// ties. ok is false for an empty result set.
func pickWinner(scores []models.EnrichedScore) (models.EnrichedScore, bool) {
	if len(scores) == 0 {
		return models.EnrichedScore{}, false
	}
	winner := scores[0]
	for _, s := range scores[1:] {
		if s.PostScore > winner.PostScore {
			winner = s
		}
	}
	return winner, true
}
