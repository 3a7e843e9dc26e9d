package rubric

import (
	"sort"
	"strconv"
	"strings"

	"github.com/lumolead/postscore/pkg/logging"
)

// ScoringHeaderComponentID marks the component after which the attribute
// rubric block is injected.
const ScoringHeaderComponentID = "SCORING_HEADER"

// BuildSystemPrompt assembles the system prompt: components in order, with
// the rubric block (active attributes split into positive and negative
// subsections) emitted directly after the scoring-header component.
func (r *Rubric) BuildSystemPrompt(log *logging.Logger) string {
	var sb strings.Builder

	for _, c := range r.PromptComponents {
		if c.Text != "" {
			sb.WriteString(c.Text)
			sb.WriteString("\n\n")
		}
		if c.ComponentID == ScoringHeaderComponentID {
			sb.WriteString(r.buildAttributeBlock(log))
		}
	}

	return strings.TrimSpace(sb.String())
}

func (r *Rubric) buildAttributeBlock(log *logging.Logger) string {
	positive, negative := r.partition(log)

	var sb strings.Builder
	sb.WriteString("## Scoring Rubric\n\n")

	sb.WriteString("### Positive Scoring Attributes\n\n")
	if len(positive) == 0 {
		sb.WriteString("None defined.\n\n")
	}
	for _, a := range positive {
		writeAttribute(&sb, a, "Add up to")
	}

	sb.WriteString("### Negative Scoring Attributes\n\n")
	if len(negative) == 0 {
		sb.WriteString("None defined.\n\n")
	}
	for _, a := range negative {
		writeAttribute(&sb, a, "Subtract up to")
	}

	return sb.String()
}

// partition splits active attributes by category. Unknown categories are
// logged and grouped with positives so the attribute still reaches the
// prompt rather than silently vanishing.
func (r *Rubric) partition(log *logging.Logger) (positive, negative []Attribute) {
	for _, a := range r.AttributesByID {
		if !a.Active {
			continue
		}
		switch a.Category {
		case CategoryPositive:
			positive = append(positive, a)
		case CategoryNegative:
			negative = append(negative, a)
		default:
			log.Warn("Scoring attribute has unknown category, treating as positive",
				"attribute_id", a.ID, "category", a.Category)
			positive = append(positive, a)
		}
	}
	sort.Slice(positive, func(i, j int) bool { return positive[i].ID < positive[j].ID })
	sort.Slice(negative, func(i, j int) bool { return negative[i].ID < negative[j].ID })
	return positive, negative
}

func writeAttribute(sb *strings.Builder, a Attribute, scoringVerb string) {
	sb.WriteString("#### ")
	sb.WriteString(a.ID)
	if a.Name != "" {
		sb.WriteString(" - ")
		sb.WriteString(a.Name)
	}
	sb.WriteString("\n")
	sb.WriteString("Scoring: ")
	sb.WriteString(scoringVerb)
	sb.WriteString(" ")
	sb.WriteString(strconv.Itoa(a.MaxPoints))
	sb.WriteString(" points.\n")
	if a.Instructions != "" {
		sb.WriteString(a.Instructions)
		sb.WriteString("\n")
	}
	if a.PosKeywords != "" {
		sb.WriteString("Positive keywords: ")
		sb.WriteString(a.PosKeywords)
		sb.WriteString("\n")
	}
	if a.NegKeywords != "" {
		sb.WriteString("Negative keywords: ")
		sb.WriteString(a.NegKeywords)
		sb.WriteString("\n")
	}
	if a.ExampleHigh != "" {
		sb.WriteString("High-scoring example: ")
		sb.WriteString(a.ExampleHigh)
		sb.WriteString("\n")
	}
	if a.ExampleLow != "" {
		sb.WriteString("Low-scoring example: ")
		sb.WriteString(a.ExampleLow)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}
