// Package session implements the SessionEngine state machine from
// spec.md §4.6: the single authoritative driver of one adventure's
// Planner/Composer/TextGenerator/ImageGenerator/StateStore/TelemetrySink
// interactions, translating client choice frames into chapter generation
// and persisted state transitions.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"adventure.app/engine/common/logger"
	"adventure.app/engine/internal/imagegen"
	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/planner"
	"adventure.app/engine/internal/prompt"
	"adventure.app/engine/internal/question"
	"adventure.app/engine/internal/scheduler"
	"adventure.app/engine/internal/store"
	"adventure.app/engine/internal/telemetry"
	"adventure.app/engine/internal/textgen"
)

type machineState string

const (
	stateAwaitingSelection machineState = "AwaitingSelection"
	stateGenerating        machineState = "Generating"
	stateStreaming         machineState = "Streaming"
	stateAwaitingChoice    machineState = "AwaitingChoice"
	stateConcluded         machineState = "Concluded"
	stateSummaryRequested  machineState = "SummaryRequested"
	stateTerminal          machineState = "Terminal"
)

// Deps bundles the injected capabilities a session needs. Every capability
// field is an interface so the Engine is fully testable against fakes, per spec.md
// §4.7's "Singleton services become injected interfaces" note.
type Deps struct {
	Planner       planner.Planner
	TextGen       textgen.TextGenerator
	ImageGen      imagegen.ImageGenerator
	Questions     question.Source
	Store         store.StateStore
	Telemetry     telemetry.Sink
	AgencyCatalog []model.AgencyCatalogEntry

	Environment    string
	WordDelay      time.Duration
	ParagraphDelay time.Duration
}

// Engine is the spec's SessionEngine, scoped to one adventure.
type Engine struct {
	deps  Deps
	state *model.AdventureState
	sched scheduler.Scheduler

	out chan Frame

	// mu guards everything below, including the pending-update mailbox
	// background tasks enqueue into — the "single mutex guards the
	// serialized state-update channel" design from spec.md §5.
	mu                sync.Mutex
	machineState      machineState
	currentChapter    int
	bufferedChoice    *inboundChoice
	suppressNextStart bool
	pendingUpdates    []func(*model.AdventureState)

	closeOut sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs an Engine for a brand-new adventure (AwaitingSelection).
func New(ctx context.Context, deps Deps, state *model.AdventureState) *Engine {
	engineCtx, cancel := context.WithCancel(ctx)
	return &Engine{
		deps:         deps,
		state:        state,
		sched:        scheduler.New(engineCtx),
		out:          make(chan Frame, 32),
		machineState: stateAwaitingSelection,
		ctx:          engineCtx,
		cancel:       cancel,
	}
}

// Resume reconstructs an Engine for a reconnecting client. If the last
// appended chapter has no recorded response and is not CONCLUSION, its
// content and choices are re-emitted immediately and a one-shot `start`
// suppression flag is set, per spec.md §4.6's reconnect rule.
func Resume(ctx context.Context, deps Deps, state *model.AdventureState) *Engine {
	e := New(ctx, deps, state)

	last := state.LastChapter()
	if last == nil {
		return e
	}
	e.currentChapter = last.ChapterNumber

	if !last.Answered() && last.ChapterType != model.ChapterTypeConclusion {
		e.machineState = stateAwaitingChoice
		e.suppressNextStart = true
		e.emitChapterContent(*last)
		return e
	}

	if state.IsComplete() {
		e.machineState = stateConcluded
		return e
	}

	e.machineState = stateAwaitingChoice
	return e
}

// Outbound is the channel of frames to relay to the client, in emission
// order. Closed once the Engine reaches Terminal or is disconnected.
func (e *Engine) Outbound() <-chan Frame {
	return e.out
}

// HandleInbound parses and applies one client message.
func (e *Engine) HandleInbound(ctx context.Context, raw []byte) error {
	e.drainUpdates()

	var msg InboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return e.protocolError(fmt.Sprintf("malformed message: %v", err))
	}

	choice, err := parseInboundChoice(msg.Choice)
	if err != nil {
		return e.protocolError(err.Error())
	}

	switch choice.kind {
	case choiceStart:
		return e.handleStart(ctx)
	case choiceRevealSummary:
		return e.handleRevealSummary(ctx)
	default:
		return e.handleChoice(ctx, choice)
	}
}

// Disconnect tears the session down when no chapter is streaming: it
// cancels the Engine's context and the scheduler (Deferred and
// image-pipeline work included) and closes Outbound. If a chapter is
// mid-stream it does nothing: the stream, the background work queued after
// it, and Outbound all stay live.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	ms := e.machineState
	e.mu.Unlock()

	if ms != stateStreaming {
		e.cancel()
		e.sched.Cancel()
		e.closeOutbound()
	}
}

// closeOutbound closes the Outbound channel exactly once, whether the
// Engine reached Terminal normally (handleRevealSummary) or the gateway
// tore the connection down early (Disconnect). Relay loops range over
// Outbound(), so leaving it open forever on disconnect would leak the
// goroutine relaying frames to a socket that no longer exists.
func (e *Engine) closeOutbound() {
	e.closeOut.Do(func() {
		close(e.out)
	})
}

func (e *Engine) protocolError(msg string) error {
	e.emit(errorFrame{Type: "error", Kind: string(model.ErrClientProtocolError), Message: msg})
	return model.NewEngineError(model.ErrClientProtocolError, msg, nil)
}

func (e *Engine) emit(payload any) {
	select {
	case e.out <- Frame{JSON: payload}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) emitRaw(text string) {
	select {
	case e.out <- rawFrame(text):
	case <-e.ctx.Done():
	}
}

// drainUpdates applies every pending background-task merge function to
// state, in submission order. Called at the start of every client-facing
// operation so the Engine never observes a torn state mid-operation.
func (e *Engine) drainUpdates() {
	e.mu.Lock()
	pending := e.pendingUpdates
	e.pendingUpdates = nil
	e.mu.Unlock()

	for _, fn := range pending {
		fn(e.state)
	}
}

// submitUpdate is called by background (Deferred/image-pipeline) tasks to
// safely merge a result into state without touching it directly.
func (e *Engine) submitUpdate(fn func(*model.AdventureState)) {
	e.mu.Lock()
	e.pendingUpdates = append(e.pendingUpdates, fn)
	e.mu.Unlock()
}

func (e *Engine) handleStart(ctx context.Context) error {
	e.mu.Lock()
	if e.suppressNextStart {
		e.suppressNextStart = false
		e.mu.Unlock()
		return nil
	}
	ms := e.machineState
	e.mu.Unlock()

	if ms != stateAwaitingSelection {
		return nil // idempotent: a late/duplicate start is a no-op outside its valid state
	}

	if e.state.ProtagonistDescription == "" {
		e.state.ProtagonistDescription = model.SelectProtagonist(model.DefaultProtagonistPool)
	}

	available, err := e.deps.Questions.AvailableCount(ctx, e.state.LessonTopic, nil)
	if err != nil {
		return e.textGenerationFailed(ctx, fmt.Errorf("counting available questions: %w", err))
	}

	result, err := e.deps.Planner.Plan(e.state.StoryLength, available)
	if err != nil {
		e.emit(errorFrame{Type: "error", Kind: string(model.ErrInvalidConfiguration), Message: err.Error()})
		return err
	}
	for _, w := range result.Warnings {
		e.emitPlannerWarning(ctx, w)
	}

	e.state.PlannedChapterTypes = result.ChapterTypes
	e.state.Touch()

	if err := e.deps.Store.Upsert(ctx, e.state); err != nil {
		return e.stateConflict(ctx, err)
	}

	e.deps.Telemetry.Emit(ctx, telemetry.Event{
		Type: telemetry.EventAdventureStarted, AdventureID: e.state.AdventureID,
		UserID: e.state.UserID, Environment: e.deps.Environment,
	})

	e.mu.Lock()
	e.machineState = stateGenerating
	e.mu.Unlock()

	return e.enterGenerating(ctx, 0)
}

// enterGenerating drives Generating(n) -> Streaming(n) -> AwaitingChoice(n)
// (or Concluded) for the chapter at PlannedChapterTypes[idx].
func (e *Engine) enterGenerating(ctx context.Context, idx int) error {
	chapterNumber := idx + 1
	e.mu.Lock()
	e.currentChapter = chapterNumber
	e.machineState = stateGenerating
	e.mu.Unlock()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		AdventureID:   logger.Ptr(e.state.AdventureID),
		ChapterNumber: logger.Ptr(chapterNumber),
	})

	var sampledQuestion *model.Question
	if e.state.PlannedChapterTypes[idx] == model.ChapterTypeLesson {
		q, err := e.deps.Questions.Sample(ctx, e.state.LessonTopic, e.state.UsedQuestionTexts())
		if errors.Is(err, question.ErrExhausted) {
			e.state.PlannedChapterTypes[idx] = model.ChapterTypeStory
			e.emitPlannerWarning(ctx, fmt.Sprintf("no questions remain for lesson slot %d; rewritten to STORY", chapterNumber))
		} else if err != nil {
			return e.textGenerationFailed(ctx, fmt.Errorf("sampling question: %w", err))
		} else {
			sampledQuestion = q
		}
	}

	p := prompt.ComposeChapter(e.state, idx, sampledQuestion, e.deps.AgencyCatalog)

	e.emit(chapterUpdateFrame{Type: "chapter_update", CurrentChapter: chapterNumber, TotalChapters: e.state.StoryLength})

	e.mu.Lock()
	e.machineState = stateStreaming
	e.mu.Unlock()

	return e.runStream(ctx, idx, chapterNumber, sampledQuestion, p)
}

func (e *Engine) runStream(ctx context.Context, idx, chapterNumber int, sampledQuestion *model.Question, p prompt.Prompt) error {
	var finalText string
	var streamErr error

	schedErr := e.sched.RunStreaming(e.ctx, func(streamCtx context.Context) error {
		chunks, final, err := e.deps.TextGen.StreamChapter(streamCtx, p)
		if err != nil {
			streamErr = err
			return err
		}
		for chunk := range chunks {
			e.forwardChunk(chunk)
		}
		finalText = <-final
		return nil
	})
	if schedErr != nil || streamErr != nil {
		return e.textGenerationFailed(ctx, fmt.Errorf("streaming chapter %d: %w", chapterNumber, firstNonNil(schedErr, streamErr)))
	}
	if finalText == "" {
		return e.textGenerationFailed(ctx, fmt.Errorf("streaming chapter %d: no text received", chapterNumber))
	}

	chapterType := e.state.PlannedChapterTypes[idx]

	var cleaned string
	var choices []model.Choice
	if chapterType == model.ChapterTypeLesson && sampledQuestion != nil {
		cleaned = finalText
		choices = lessonChoices(sampledQuestion)
		e.state.LessonQuestionsUsed = append(e.state.LessonQuestionsUsed, *sampledQuestion)
	} else {
		cleaned, choices = extractNarrativeChoices(finalText)
	}

	e.emit(replaceContentFrame{Type: "replace_content", Content: cleaned})
	if len(choices) > 0 {
		e.emit(choicesFrame{Type: "choices", Choices: toChoiceWire(choices)})
	}

	chapter := model.Chapter{
		ChapterNumber: chapterNumber,
		ChapterType:   chapterType,
		Content:       cleaned,
		Choices:       choices,
	}
	if chapterType == model.ChapterTypeLesson && sampledQuestion != nil {
		chapter.Question = sampledQuestion
	}
	e.state.Chapters = append(e.state.Chapters, chapter)
	e.state.Touch()

	if err := e.deps.Store.Upsert(ctx, e.state); err != nil {
		return e.stateConflict(ctx, err)
	}

	e.enqueueDeferredTasks(chapterNumber, cleaned)
	e.startImagePipeline(chapterNumber, cleaned)

	e.mu.Lock()
	e.machineState = stateAwaitingChoice
	buffered := e.bufferedChoice
	e.bufferedChoice = nil
	e.mu.Unlock()

	if chapterNumber == e.state.StoryLength {
		e.mu.Lock()
		e.machineState = stateConcluded
		e.mu.Unlock()
		e.emit(chapterUpdateFrame{Type: "chapter_update", CurrentChapter: chapterNumber, TotalChapters: e.state.StoryLength})
		return nil
	}

	if buffered != nil {
		return e.handleChoice(ctx, buffered)
	}
	return nil
}

func (e *Engine) forwardChunk(chunk string) {
	if e.deps.WordDelay == 0 && e.deps.ParagraphDelay == 0 {
		e.emitRaw(chunk)
		return
	}
	e.emitRaw(chunk)
	delay := e.deps.WordDelay
	if containsParagraphBreak(chunk) {
		delay += e.deps.ParagraphDelay
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-e.ctx.Done():
		}
	}
}

func (e *Engine) handleChoice(ctx context.Context, choice *inboundChoice) error {
	e.mu.Lock()
	ms := e.machineState
	chapterNumber := e.currentChapter
	if ms == stateStreaming {
		e.bufferedChoice = choice
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if ms != stateAwaitingChoice {
		return nil // idempotent outside the valid state
	}

	idx := chapterNumber - 1
	if idx < 0 || idx >= len(e.state.Chapters) {
		return e.protocolError("choice received with no pending chapter")
	}
	chapter := &e.state.Chapters[idx]
	if chapter.Answered() {
		return nil // idempotent: already-recorded response
	}

	chapter.Response = &model.Response{ChosenPath: choiceText(choice), ChoiceText: choice.choiceText}
	e.state.Touch()

	if chapterNumber == 1 && e.state.Agency == nil {
		agency := model.MatchAgency(e.deps.AgencyCatalog, choice.choiceText)
		e.state.Agency = &agency
	}

	if err := e.deps.Store.Upsert(ctx, e.state); err != nil {
		return e.stateConflict(ctx, err)
	}

	e.deps.Telemetry.Emit(ctx, telemetry.Event{
		Type: telemetry.EventChoiceMade, AdventureID: e.state.AdventureID, UserID: e.state.UserID,
		Environment: e.deps.Environment,
		Attrs:       map[string]any{"chapter_number": chapterNumber, "choice": choice.choiceText},
	})

	if chapterNumber == e.state.StoryLength {
		e.mu.Lock()
		e.machineState = stateConcluded
		e.mu.Unlock()
		return nil
	}

	return e.enterGenerating(ctx, idx+1)
}

func (e *Engine) handleRevealSummary(ctx context.Context) error {
	e.mu.Lock()
	ms := e.machineState
	e.mu.Unlock()
	if ms != stateConcluded {
		return nil
	}

	e.sched.Wait()
	e.drainUpdates()

	last := e.state.LastChapter()
	if last != nil && len(e.state.ChapterSummaries) < len(e.state.Chapters) {
		p := prompt.ComposeSummary(*last, "")
		content, err := e.deps.TextGen.CompleteJSON(ctx, p)
		if err == nil {
			var parsed struct {
				Title   string `json:"title"`
				Summary string `json:"summary"`
			}
			if json.Unmarshal([]byte(content), &parsed) == nil && parsed.Summary != "" {
				e.state.ChapterSummaries = append(e.state.ChapterSummaries, parsed.Summary)
				e.state.SummaryChapterTitles = append(e.state.SummaryChapterTitles, parsed.Title)
			}
		}
	}

	e.state.Touch()
	if err := e.deps.Store.Upsert(ctx, e.state); err != nil {
		return e.stateConflict(ctx, err)
	}

	e.deps.Telemetry.Emit(ctx, telemetry.Event{
		Type: telemetry.EventSummaryViewed, AdventureID: e.state.AdventureID, UserID: e.state.UserID, Environment: e.deps.Environment,
	})

	e.emit(summaryReadyFrame{Type: "summary_ready", StateID: e.state.AdventureID})

	e.mu.Lock()
	e.machineState = stateTerminal
	e.mu.Unlock()
	e.closeOutbound()
	e.cancel()

	return nil
}

func (e *Engine) emitChapterContent(chapter model.Chapter) {
	e.emit(chapterUpdateFrame{Type: "chapter_update", CurrentChapter: chapter.ChapterNumber, TotalChapters: e.state.StoryLength})
	e.emit(replaceContentFrame{Type: "replace_content", Content: chapter.Content})
	if len(chapter.Choices) > 0 {
		e.emit(choicesFrame{Type: "choices", Choices: toChoiceWire(chapter.Choices)})
	}
}

func (e *Engine) textGenerationFailed(ctx context.Context, cause error) error {
	slog.ErrorContext(ctx, "text generation failed", "error", cause)
	e.emit(errorFrame{Type: "error", Kind: string(model.ErrTextGenerationFailed), Message: cause.Error()})
	e.state.Touch()
	_ = e.deps.Store.Upsert(ctx, e.state)
	return model.NewEngineError(model.ErrTextGenerationFailed, "chapter generation failed", cause)
}

// stateConflict implements spec.md §7's StateConflict retry-once policy:
// reload from the store and retry the upsert; surface as error if it still
// conflicts.
func (e *Engine) stateConflict(ctx context.Context, cause error) error {
	reloaded, reloadErr := e.deps.Store.Fetch(ctx, e.state.AdventureID)
	if reloadErr != nil {
		e.emit(errorFrame{Type: "error", Kind: string(model.ErrStateConflict), Message: cause.Error()})
		return model.NewEngineError(model.ErrStateConflict, "reload after conflict failed", cause)
	}
	*e.state = *reloaded
	if err := e.deps.Store.Upsert(ctx, e.state); err != nil {
		e.emit(errorFrame{Type: "error", Kind: string(model.ErrStateConflict), Message: err.Error()})
		return model.NewEngineError(model.ErrStateConflict, "retry after conflict failed", err)
	}
	return nil
}

func (e *Engine) emitPlannerWarning(ctx context.Context, reason string) {
	slog.WarnContext(ctx, "planner warning", "reason", reason)
	e.deps.Telemetry.Emit(ctx, telemetry.Event{
		Type: telemetry.EventPlannerWarning, AdventureID: e.state.AdventureID,
		UserID: e.state.UserID, Environment: e.deps.Environment,
		Attrs: map[string]any{"reason": reason},
	})
}

func choiceText(c *inboundChoice) string {
	if c.kind == choiceNarrative {
		return c.chosenPath
	}
	return strconv.Itoa(c.answerIndex)
}

func toChoiceWire(choices []model.Choice) []choiceWire {
	out := make([]choiceWire, len(choices))
	for i, c := range choices {
		out[i] = choiceWire{Text: c.Text, ID: c.ID}
	}
	return out
}

func containsParagraphBreak(s string) bool {
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '\n' && s[i+1] == '\n' {
			return true
		}
	}
	return false
}

func firstNonNil(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
