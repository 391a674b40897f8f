package model

import "time"

// AdventureState is the single authoritative session record. Only the owning
// SessionEngine mutates it; background tasks submit updates through the
// Engine's serialized update channel rather than touching it directly (see
// internal/session).
type AdventureState struct {
	AdventureID string `json:"adventure_id"`
	ClientUUID  string `json:"client_uuid"`
	UserID      string `json:"user_id,omitempty"`

	StoryCategory string `json:"story_category"`
	LessonTopic   string `json:"lesson_topic"`
	StoryLength   int    `json:"story_length"`

	// PlannedChapterTypes is immutable after creation.
	PlannedChapterTypes []ChapterType `json:"planned_chapter_types"`

	// Chapters is append-only; len(Chapters) <= StoryLength.
	Chapters []Chapter `json:"chapters"`

	// ProtagonistDescription is immutable after creation.
	ProtagonistDescription string `json:"protagonist_description"`

	// CharacterVisuals maps a character name to a visual description.
	// Mutated only by the background visual-extraction task.
	CharacterVisuals map[string]string `json:"character_visuals"`

	// Agency is set exactly once, on the Chapter-1 response.
	Agency *Agency `json:"agency,omitempty"`

	ChapterSummaries     []string   `json:"chapter_summaries"`
	SummaryChapterTitles []string   `json:"summary_chapter_titles"`
	LessonQuestionsUsed  []Question `json:"lesson_questions"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAdventureState builds a fresh, empty state for a new session. The
// caller still owes it PlannedChapterTypes (from ChapterPlanner) and an
// AdventureID (assigned on first persistence).
func NewAdventureState(clientUUID, userID, storyCategory, lessonTopic string, storyLength int, protagonist string) *AdventureState {
	now := time.Now()
	return &AdventureState{
		ClientUUID:              clientUUID,
		UserID:                  userID,
		StoryCategory:           storyCategory,
		LessonTopic:             lessonTopic,
		StoryLength:             storyLength,
		ProtagonistDescription:  protagonist,
		CharacterVisuals:        map[string]string{},
		ChapterSummaries:        make([]string, 0, storyLength),
		SummaryChapterTitles:    make([]string, 0, storyLength),
		LessonQuestionsUsed:     make([]Question, 0, storyLength),
		CreatedAt:               now,
		UpdatedAt:               now,
	}
}

// CurrentStoryPhase derives the storytelling phase for the next chapter to
// be generated (1-based chapter number == len(Chapters)+1).
func (s *AdventureState) CurrentStoryPhase() StorytellingPhase {
	next := len(s.Chapters) + 1
	return PhaseForChapter(next, s.StoryLength)
}

// IsComplete reports whether the adventure has reached its CONCLUSION and
// that chapter's response (if any were required) has been recorded. A
// CONCLUSION chapter never carries a Response, so completeness is derived
// purely from its presence as the final appended chapter.
func (s *AdventureState) IsComplete() bool {
	if len(s.Chapters) == 0 {
		return false
	}
	last := s.Chapters[len(s.Chapters)-1]
	return last.ChapterType == ChapterTypeConclusion
}

// LastChapter returns the most recently appended chapter, or nil if none.
func (s *AdventureState) LastChapter() *Chapter {
	if len(s.Chapters) == 0 {
		return nil
	}
	return &s.Chapters[len(s.Chapters)-1]
}

// NextChapterIndex is the zero-based index into PlannedChapterTypes for the
// next chapter to generate.
func (s *AdventureState) NextChapterIndex() int {
	return len(s.Chapters)
}

// UsedQuestionTexts returns the set of question texts already consumed in
// this session, for QuestionSource's no-repetition guarantee.
func (s *AdventureState) UsedQuestionTexts() map[string]struct{} {
	used := make(map[string]struct{}, len(s.LessonQuestionsUsed))
	for _, q := range s.LessonQuestionsUsed {
		used[q.Text] = struct{}{}
	}
	return used
}

// Touch bumps UpdatedAt; called by the Engine before every persist.
func (s *AdventureState) Touch() {
	s.UpdatedAt = time.Now()
}
