package session

import (
	"regexp"
	"strconv"
	"strings"

	"adventure.app/engine/internal/model"
)

// choiceMarker matches the [[CHOICE: id | text]] inline markers the
// narrative system prompt instructs the model to emit at the end of STORY
// and REFLECT chapters. The choice text may contain bracketed groups, as
// Chapter 1's "Name [visual_details]" agency options do.
var choiceMarker = regexp.MustCompile(`\[\[CHOICE:\s*([^|]+)\|((?:[^\[\]]|\[[^\]]*\])+)\]\]`)

// extractNarrativeChoices strips choice markers from raw chapter text and
// returns the cleaned prose alongside the parsed choice list, in the order
// the markers appeared.
func extractNarrativeChoices(raw string) (cleaned string, choices []model.Choice) {
	matches := choiceMarker.FindAllStringSubmatchIndex(raw, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(raw), nil
	}

	var sb strings.Builder
	last := 0
	for _, m := range matches {
		sb.WriteString(raw[last:m[0]])
		id := strings.TrimSpace(raw[m[2]:m[3]])
		text := strings.TrimSpace(raw[m[4]:m[5]])
		choices = append(choices, model.Choice{ID: id, Text: text})
		last = m[1]
	}
	sb.WriteString(raw[last:])

	return strings.TrimSpace(sb.String()), choices
}

// lessonChoices builds the choice set for a LESSON chapter from its bound
// question: one choice per answer, ID is the stringified answer index.
func lessonChoices(q *model.Question) []model.Choice {
	choices := make([]model.Choice, len(q.Answers))
	for i, a := range q.Answers {
		choices[i] = model.Choice{ID: strconv.Itoa(i), Text: a}
	}
	return choices
}
