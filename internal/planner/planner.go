// Package planner produces the full sequence of chapter types for a new
// adventure under the constraints in spec §4.1. It is pure — no I/O, no
// randomness — so the same (story_length, available_questions) pair always
// yields the same plan.
package planner

import (
	"fmt"

	"adventure.app/engine/internal/model"
)

// Result captures the output of a single planning run.
type Result struct {
	ChapterTypes []model.ChapterType
	// Warnings is non-empty when the available questions capped the LESSON
	// count below floor((L-2)/2), or when the planner had to fall back to an
	// all-STORY middle; callers should emit a planner-warning telemetry
	// event for each entry but must not treat the run as failed.
	Warnings []string
}

// Planner produces a chapter-type sequence for a new adventure.
type Planner interface {
	Plan(storyLength, availableQuestions int) (*Result, error)
}

type planner struct{}

// New returns the default ChapterPlanner.
func New() Planner {
	return &planner{}
}

func (p *planner) Plan(storyLength, availableQuestions int) (*Result, error) {
	if storyLength < 4 {
		return nil, model.NewEngineError(model.ErrInvalidConfiguration,
			fmt.Sprintf("story_length must be >= 4, got %d", storyLength), nil)
	}

	types := make([]model.ChapterType, storyLength)
	types[0] = model.ChapterTypeStory
	types[storyLength-1] = model.ChapterTypeConclusion
	types[storyLength-2] = model.ChapterTypeStory

	middleStart, middleEnd := 1, storyLength-3

	lessonTarget := targetLessonCount(storyLength, availableQuestions)
	lessonPositions := placeLessons(types, middleStart, middleEnd, lessonTarget)
	placeReflects(types, middleStart, middleEnd, lessonPositions)
	fillRemaining(types, middleStart, middleEnd, model.ChapterTypeStory)

	warnings := validate(types, len(lessonPositions))
	if len(warnings) > 0 {
		for p := middleStart; p <= middleEnd; p++ {
			types[p] = model.ChapterTypeStory
		}
		warnings = append(warnings, "planner validation failed; falling back to all-STORY middle")
	}
	if full := (storyLength - 2) / 2; lessonTarget < full {
		warnings = append(warnings, fmt.Sprintf("only %d questions available; LESSON count capped at %d of %d", availableQuestions, lessonTarget, full))
	}

	return &Result{ChapterTypes: types, Warnings: warnings}, nil
}

// targetLessonCount is floor((L-2)/2), capped by the number of available
// questions — step 1 of spec §4.1.
func targetLessonCount(storyLength, availableQuestions int) int {
	target := (storyLength - 2) / 2
	if availableQuestions < target {
		target = availableQuestions
	}
	if target < 0 {
		target = 0
	}
	return target
}

// placeLessons greedily assigns LESSON to middle positions left-to-right,
// skipping any position immediately after an already-placed LESSON — step 2.
func placeLessons(types []model.ChapterType, start, end, target int) []int {
	positions := make([]int, 0, target)
	for p := start; p <= end && len(positions) < target; p++ {
		if types[p] != "" {
			continue
		}
		prevIsLesson := p > start && types[p-1] == model.ChapterTypeLesson
		if prevIsLesson {
			continue
		}
		types[p] = model.ChapterTypeLesson
		positions = append(positions, p)
	}
	return positions
}

// placeReflects marks floor(lessonCount/2) LESSON slots' following position
// as REFLECT, chosen in ascending position order (deterministic tie-break),
// skipping any candidate whose own follower is already LESSON so the
// "STORY follows every REFLECT" invariant holds without relying on the
// fallback path — step 3.
func placeReflects(types []model.ChapterType, start, end int, lessonPositions []int) {
	target := len(lessonPositions) / 2
	placed := 0
	for _, p := range lessonPositions {
		if placed >= target {
			break
		}
		next := p + 1
		if next > end || types[next] != "" {
			continue
		}
		afterNext := next + 1
		if afterNext <= end && types[afterNext] == model.ChapterTypeLesson {
			continue
		}
		types[next] = model.ChapterTypeReflect
		placed++
	}
}

// fillRemaining assigns fill to every still-unset middle position — step 4.
func fillRemaining(types []model.ChapterType, start, end int, fill model.ChapterType) {
	for p := start; p <= end; p++ {
		if types[p] == "" {
			types[p] = fill
		}
	}
}

// validate checks the invariants from spec §4.1 step 5 and §8. A non-empty
// result means the caller must fall back to an all-STORY middle.
func validate(types []model.ChapterType, lessonCount int) []string {
	var warnings []string
	L := len(types)

	for i := 1; i < L; i++ {
		if types[i] == model.ChapterTypeLesson && types[i-1] == model.ChapterTypeLesson {
			warnings = append(warnings, "adjacent LESSON chapters")
		}
	}

	reflectCount := 0
	for i, t := range types {
		if t != model.ChapterTypeReflect {
			continue
		}
		reflectCount++
		if i == 0 || types[i-1] != model.ChapterTypeLesson {
			warnings = append(warnings, "REFLECT not immediately preceded by LESSON")
		}
		if i+1 < L && types[i+1] != model.ChapterTypeStory {
			warnings = append(warnings, "REFLECT not immediately followed by STORY")
		}
	}

	if lessonCount >= 2 && reflectCount == 0 {
		warnings = append(warnings, "expected at least one REFLECT when lesson count >= 2")
	}
	if L > 0 && types[L-1] != model.ChapterTypeConclusion {
		warnings = append(warnings, "final chapter is not CONCLUSION")
	}

	return warnings
}
