// Package prompt composes prompt strings from AdventureState and fixed
// templates. It is pure: no I/O, no provider calls — every function here is
// a deterministic string transform.
package prompt

import (
	"fmt"
	"strings"

	"adventure.app/engine/internal/model"
)

// Prompt is a system/user message pair ready to hand to a TextGenerator.
type Prompt struct {
	System string
	User   string
}

// phaseGuidance holds the fixed choice-shaping guidance per storytelling
// phase, selected by ComposeChapter for STORY/REFLECT chapters.
var phaseGuidance = map[model.StorytellingPhase]string{
	model.PhaseExposition: "Establish the setting and the protagonist's immediate goal. Choices should open up the world rather than resolve tension.",
	model.PhaseRising:     "Raise the stakes. Choices should force a tradeoff between two appealing paths.",
	model.PhaseTrials:     "Introduce a concrete obstacle or adversary. Choices should test the protagonist's chosen agency directly.",
	model.PhaseClimax:     "Bring the central conflict to a head. Choices should feel consequential and irreversible.",
	model.PhaseReturn:     "Resolve the consequences of prior choices and move toward closure. Choices should narrow toward the ending.",
}

const chapterSystemPrompt = `You are a narrative engine for an interactive educational adventure. You write immersive, age-appropriate chapters and always end STORY and REFLECT chapters with exactly three distinct narrative choices, each tagged inline as [[CHOICE: id | choice text]]. Never number choices outside that marker format. Keep prose vivid but concise.`

// ComposeChapter builds the prompt for generating chapter nextIndex+1
// (nextIndex is the zero-based index into state.PlannedChapterTypes).
// agencyCatalog is only consulted for Chapter 1 (nextIndex == 0): its
// options are injected as the chapter's fixed choice set so the user's
// selection round-trips through MatchAgency instead of depending on the
// LLM inventing choices that happen to match a catalog entry.
func ComposeChapter(state *model.AdventureState, nextIndex int, question *model.Question, agencyCatalog []model.AgencyCatalogEntry) Prompt {
	chapterNumber := nextIndex + 1
	chapterType := state.PlannedChapterTypes[nextIndex]
	phase := model.PhaseForChapter(chapterNumber, state.StoryLength)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Story category: %s\nLesson topic: %s\nProtagonist: %s\n", state.StoryCategory, state.LessonTopic, state.ProtagonistDescription)
	if state.Agency != nil {
		fmt.Fprintf(&sb, "Protagonist's agency: %s (%s) — %s\n", state.Agency.Name, state.Agency.Category, state.Agency.Description)
	}
	fmt.Fprintf(&sb, "Chapter %d of %d. Chapter type: %s. Storytelling phase: %s.\n\n", chapterNumber, state.StoryLength, chapterType, phase)

	if prior := state.LastChapter(); prior != nil {
		sb.WriteString("Prior chapter content:\n")
		sb.WriteString(prior.Content)
		sb.WriteString("\n\n")
		if prior.Response != nil {
			fmt.Fprintf(&sb, "The protagonist chose: %s\n\n", prior.Response.ChoiceText)
		}
	}

	switch {
	case nextIndex == 0 && len(agencyCatalog) > 0:
		options := model.OneEntryPerCategory(agencyCatalog)
		sb.WriteString("This is Chapter 1: the protagonist discovers their agency (a power, companion, artifact, or role). Introduce the moment of discovery, then end the chapter with exactly these choice markers, verbatim, one per option below, in this order:\n")
		for i, opt := range options {
			fmt.Fprintf(&sb, "[[CHOICE: %d | %s]]\n", i+1, opt.ChoiceText())
		}
		sb.WriteString("Do not invent, reword, reorder, or add to these choices.\n")
	case chapterType == model.ChapterTypeConclusion:
		sb.WriteString("Write the final chapter. Bring the adventure to a satisfying close. Do not include any choice markers — this chapter ends the story.\n")
	case chapterType == model.ChapterTypeLesson:
		if question != nil {
			fmt.Fprintf(&sb, "Weave the following question verbatim into the chapter's events, as something the protagonist must answer to proceed:\n\n%q\n\nDo not include narrative choice markers; the question's answers are the only choices.\n", question.Text)
		}
	default: // STORY, REFLECT
		if guidance, ok := phaseGuidance[phase]; ok {
			sb.WriteString(guidance)
			sb.WriteString("\n")
		}
		sb.WriteString("End the chapter with exactly three [[CHOICE: id | text]] markers.\n")
	}

	return Prompt{System: chapterSystemPrompt, User: sb.String()}
}

const summarySystemPrompt = `You summarize story chapters for a recap screen. Respond with strict JSON: {"title": "<short title>", "summary": "<2-3 sentence summary>"}. No commentary, no markdown fences.`

// ComposeSummary builds the prompt for summarizing a completed chapter.
func ComposeSummary(chapter model.Chapter, choiceContext string) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Chapter %d (%s):\n\n%s\n", chapter.ChapterNumber, chapter.ChapterType, chapter.Content)
	if choiceContext != "" {
		fmt.Fprintf(&sb, "\nThe protagonist chose: %s\n", choiceContext)
	}
	return Prompt{System: summarySystemPrompt, User: sb.String()}
}

const characterVisualSystemPrompt = `You track visual descriptions of named characters across a story for illustration consistency. Respond with strict JSON: a flat object mapping character name to a short visual description (appearance, clothing, distinguishing features). Include only characters newly introduced or visually described in this chapter. No commentary, no markdown fences.`

// ComposeCharacterVisualUpdate builds the prompt for the background
// visual-extraction task.
func ComposeCharacterVisualUpdate(chapterContent string, existingVisuals map[string]string) Prompt {
	var sb strings.Builder
	sb.WriteString("Chapter content:\n\n")
	sb.WriteString(chapterContent)
	sb.WriteString("\n\n")
	if len(existingVisuals) > 0 {
		sb.WriteString("Characters already described:\n")
		for name, desc := range existingVisuals {
			fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
		}
	}
	return Prompt{System: characterVisualSystemPrompt, User: sb.String()}
}

const imageSceneSystemPrompt = `You extract the single most visually striking moment from a story chapter for illustration. Respond with strict JSON: {"scene": "<one sentence describing the moment>", "mood": "<sensory mood, e.g. 'cold moonlit tension'>"}. No commentary, no markdown fences.`

// ComposeImageScene builds the prompt for the image pipeline's
// scene-extraction step.
func ComposeImageScene(chapterContent string) Prompt {
	return Prompt{System: imageSceneSystemPrompt, User: chapterContent}
}

const imageSynthesisSystemPrompt = `You write a single, detailed image-generation prompt for an illustration. Respond with strict JSON: {"prompt": "<final image prompt>"}. No commentary, no markdown fences.`

// ComposeImageSynthesis builds the prompt for the image pipeline's
// prompt-synthesis step, combining the extracted scene with protagonist,
// agency, and character-visual context.
func ComposeImageSynthesis(scene, protagonist string, agency *model.Agency, characterVisuals map[string]string, sensoryMood string) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Scene: %s\nMood: %s\nProtagonist appearance: %s\n", scene, sensoryMood, protagonist)
	if agency != nil {
		fmt.Fprintf(&sb, "Protagonist's agency: %s — %s\n", agency.Name, agency.VisualDetails)
	}
	if len(characterVisuals) > 0 {
		sb.WriteString("Other characters present, if relevant to the scene:\n")
		for name, desc := range characterVisuals {
			fmt.Fprintf(&sb, "- %s: %s\n", name, desc)
		}
	}
	return Prompt{System: imageSynthesisSystemPrompt, User: sb.String()}
}
