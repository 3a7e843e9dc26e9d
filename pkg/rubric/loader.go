// Package rubric loads a tenant's scoring rubric (ordered prompt components
// plus scoring attributes) and assembles the system prompt the model scores
// posts against.
package rubric

import (
	"context"
	"fmt"
	"sort"

	"github.com/lumolead/postscore/pkg/logging"
	"github.com/lumolead/postscore/pkg/tenant"
)

// Attribute categories. Anything else is treated as positive with a warning.
const (
	CategoryPositive = "positive"
	CategoryNegative = "negative"
)

// Component field names in the prompt-components table.
const (
	fieldComponentID = "Component ID"
	fieldName        = "Name"
	fieldText        = "Text"
	fieldOrder       = "Order"
)

// Attribute field names in the scoring-attributes table.
const (
	fieldAttributeID  = "Attribute ID"
	fieldCategory     = "Category"
	fieldMaxPoints    = "Max Points"
	fieldInstructions = "Detailed Instructions"
	fieldPosKeywords  = "Positive Keywords"
	fieldNegKeywords  = "Negative Keywords"
	fieldExampleHigh  = "Example - High Score"
	fieldExampleLow   = "Example - Low Score"
	fieldActive       = "Active"
)

// Component is one ordered prompt block.
type Component struct {
	ComponentID string
	Name        string
	Text        string
	Order       float64
}

// Attribute is one scoring attribute. Active defaults to true when the
// tenant base leaves the field blank.
type Attribute struct {
	ID           string
	Name         string
	Category     string
	MaxPoints    int
	Instructions string
	PosKeywords  string
	NegKeywords  string
	ExampleHigh  string
	ExampleLow   string
	Active       bool
}

// Rubric is the loaded, not-yet-assembled scoring specification.
type Rubric struct {
	PromptComponents []Component
	AttributesByID   map[string]Attribute
}

// Load reads the rubric tables from a tenant store. Empty tables warn but do
// not fail: the builder produces a degenerate prompt and the model call
// surfaces the real problem.
func Load(ctx context.Context, store tenant.Store, log *logging.Logger) (*Rubric, error) {
	components, err := loadComponents(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load prompt components: %w", err)
	}
	if len(components) == 0 {
		log.Warn("No prompt components defined for client")
	}

	attrs, err := loadAttributes(ctx, store)
	if err != nil {
		return nil, fmt.Errorf("load scoring attributes: %w", err)
	}
	if len(attrs) == 0 {
		log.Warn("No scoring attributes defined for client")
	}

	return &Rubric{PromptComponents: components, AttributesByID: attrs}, nil
}

func loadComponents(ctx context.Context, store tenant.Store) ([]Component, error) {
	records, err := store.Select(ctx, tenant.TableScoringComponents, tenant.SelectOptions{
		Fields: []string{fieldComponentID, fieldName, fieldText, fieldOrder},
	})
	if err != nil {
		return nil, err
	}

	components := make([]Component, 0, len(records))
	for _, rec := range records {
		components = append(components, Component{
			ComponentID: rec.Str(fieldComponentID),
			Name:        rec.Str(fieldName),
			Text:        rec.Str(fieldText),
			Order:       numField(rec, fieldOrder),
		})
	}
	sort.SliceStable(components, func(i, j int) bool {
		return components[i].Order < components[j].Order
	})
	return components, nil
}

func loadAttributes(ctx context.Context, store tenant.Store) (map[string]Attribute, error) {
	records, err := store.Select(ctx, tenant.TableScoringAttributes, tenant.SelectOptions{})
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]Attribute, len(records))
	for _, rec := range records {
		id := rec.Str(fieldAttributeID)
		if id == "" {
			id = rec.ID
		}
		attrs[id] = Attribute{
			ID:           id,
			Name:         rec.Str(fieldName),
			Category:     rec.Str(fieldCategory),
			MaxPoints:    int(numField(rec, fieldMaxPoints)),
			Instructions: rec.Str(fieldInstructions),
			PosKeywords:  rec.Str(fieldPosKeywords),
			NegKeywords:  rec.Str(fieldNegKeywords),
			ExampleHigh:  rec.Str(fieldExampleHigh),
			ExampleLow:   rec.Str(fieldExampleLow),
			Active:       activeField(rec),
		}
	}
	return attrs, nil
}

func numField(rec tenant.Record, field string) float64 {
	switch v := rec.Fields[field].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

// activeField defaults to true when blank or absent.
func activeField(rec tenant.Record) bool {
	v, ok := rec.Fields[fieldActive]
	if !ok || v == nil {
		return true
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "false" && t != "No" && t != "0"
	default:
		return true
	}
}
