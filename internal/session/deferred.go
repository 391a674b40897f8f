package session

import (
	"context"
	"encoding/json"
	"log/slog"

	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/prompt"
	"adventure.app/engine/internal/scheduler"
)

// enqueueDeferredTasks schedules the two background tasks spec.md §4.6
// requires after a chapter's stream closes: summarization and
// character-visual extraction. Both are Deferred — they only run once
// Streaming next goes idle — and submit their results back through
// submitUpdate rather than touching state directly.
func (e *Engine) enqueueDeferredTasks(chapterNumber int, content string) {
	e.sched.EnqueueDeferred(scheduler.KindSummarization, func(ctx context.Context) error {
		return e.summarizeChapter(ctx, chapterNumber, content)
	})
	e.sched.EnqueueDeferred(scheduler.KindVisualUpdate, func(ctx context.Context) error {
		return e.updateCharacterVisuals(ctx, content)
	})
}

func (e *Engine) summarizeChapter(ctx context.Context, chapterNumber int, content string) error {
	idx := chapterNumber - 1
	if idx < 0 || idx >= len(e.state.Chapters) {
		return nil
	}
	chapter := e.state.Chapters[idx]

	choiceContext := ""
	if chapter.Response != nil {
		choiceContext = chapter.Response.ChoiceText
	}

	p := prompt.ComposeSummary(chapter, choiceContext)
	out, err := e.deps.TextGen.CompleteJSON(ctx, p)

	var title, summary string
	if err == nil {
		var parsed struct {
			Title   string `json:"title"`
			Summary string `json:"summary"`
		}
		if jsonErr := json.Unmarshal([]byte(out), &parsed); jsonErr == nil {
			title, summary = parsed.Title, parsed.Summary
		}
	}
	if summary == "" {
		// Documented fallback per spec.md §7 — background-task errors never
		// bubble into the streaming path.
		slog.WarnContext(ctx, "chapter summarization failed, using fallback text", "chapter_number", chapterNumber, "error", err)
		summary = "Chapter summary not available"
	}

	e.submitUpdate(func(state *model.AdventureState) {
		for len(state.ChapterSummaries) < idx {
			state.ChapterSummaries = append(state.ChapterSummaries, "")
			state.SummaryChapterTitles = append(state.SummaryChapterTitles, "")
		}
		if len(state.ChapterSummaries) == idx {
			state.ChapterSummaries = append(state.ChapterSummaries, summary)
			state.SummaryChapterTitles = append(state.SummaryChapterTitles, title)
		} else {
			state.ChapterSummaries[idx] = summary
			state.SummaryChapterTitles[idx] = title
		}
	})
	return nil
}

func (e *Engine) updateCharacterVisuals(ctx context.Context, content string) error {
	p := prompt.ComposeCharacterVisualUpdate(content, e.state.CharacterVisuals)
	out, err := e.deps.TextGen.CompleteJSON(ctx, p)
	if err != nil {
		slog.WarnContext(ctx, "character visual extraction failed", "error", err)
		return nil
	}

	var updates map[string]string
	if jsonErr := json.Unmarshal([]byte(out), &updates); jsonErr != nil || len(updates) == 0 {
		return nil
	}

	e.submitUpdate(func(state *model.AdventureState) {
		if state.CharacterVisuals == nil {
			state.CharacterVisuals = map[string]string{}
		}
		for name, desc := range updates {
			state.CharacterVisuals[name] = desc
		}
	})
	return nil
}
