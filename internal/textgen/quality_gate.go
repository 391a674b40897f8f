package textgen

import (
	"context"
	"log/slog"
	"strings"

	"adventure.app/engine/internal/prompt"
)

const (
	qualityGateMinBytes    = 150
	qualityGateBreakPeriod = 225 // one paragraph break expected per ~225 chars
)

// applyQualityGate implements spec.md §4.3's paragraph-formatting quality
// gate. It never blocks the streaming path itself — it runs only after the
// stream has already closed and chunks have been forwarded to the caller.
func (g *textGenerator) applyQualityGate(ctx context.Context, text string, p prompt.Prompt) string {
	if len(text) < qualityGateMinBytes {
		return text
	}
	if hasSufficientParagraphBreaks(text) {
		return text
	}

	slog.InfoContext(ctx, "chapter text failed paragraph-formatting quality gate, regenerating",
		"length", len(text))

	strongPrompt := p
	strongPrompt.System = p.System + " Format your response into clear paragraphs: insert a blank line between paragraphs roughly every 2-4 sentences. This is a strict formatting requirement."

	type attempt struct {
		text string
		ok   bool
	}
	results := make(chan attempt, 2)

	for i := 0; i < 2; i++ {
		go func() {
			regenCtx := ctx
			out, err := g.completeText(regenCtx, strongPrompt)
			if err != nil {
				results <- attempt{ok: false}
				return
			}
			results <- attempt{text: out, ok: hasSufficientParagraphBreaks(out)}
		}()
	}

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			if r.ok {
				return r.text
			}
		case <-ctx.Done():
			return insertParagraphBreaks(text)
		}
	}

	return insertParagraphBreaks(text)
}

func hasSufficientParagraphBreaks(text string) bool {
	expected := len(text) / qualityGateBreakPeriod
	if expected == 0 {
		return true
	}
	actual := strings.Count(text, "\n\n")
	return actual >= expected
}

// insertParagraphBreaks heuristically breaks text into paragraphs of
// roughly qualityGateBreakPeriod characters, splitting on sentence
// boundaries, as a last resort when regeneration attempts also fail.
func insertParagraphBreaks(text string) string {
	sentences := splitSentences(text)
	if len(sentences) <= 1 {
		return text
	}

	var out strings.Builder
	lineLen := 0
	for i, s := range sentences {
		out.WriteString(s)
		lineLen += len(s)
		if i == len(sentences)-1 {
			break
		}
		if lineLen >= qualityGateBreakPeriod {
			out.WriteString("\n\n")
			lineLen = 0
		} else {
			out.WriteString(" ")
		}
	}
	return out.String()
}

// splitSentences is a simple heuristic splitter on ". ", "! ", and "? ",
// keeping the terminator attached to its sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '.' || c == '!' || c == '?' {
			end := i + 1
			if end < len(text) && text[end] == ' ' {
				sentences = append(sentences, text[start:end])
				start = end + 1
			}
		}
	}
	if start < len(text) {
		sentences = append(sentences, text[start:])
	}
	return sentences
}
