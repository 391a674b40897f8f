package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"

	"adventure.app/engine/internal/model"
	"adventure.app/engine/internal/prompt"
	"adventure.app/engine/internal/scheduler"
)

// startImagePipeline runs spec.md §4.6's scene → synthesis → generate
// pipeline for chapter n. The two LLM steps (scene extraction, prompt
// synthesis) are Deferred — they queue behind an active stream exactly like
// summarization — while the final non-LLM image call runs concurrently via
// RunConcurrent. State needed by the pipeline is snapshotted here, on the
// Engine's own goroutine, so the background steps never read e.state
// directly.
func (e *Engine) startImagePipeline(chapterNumber int, content string) {
	protagonist := e.state.ProtagonistDescription
	agency := e.state.Agency
	visuals := copyVisuals(e.state.CharacterVisuals)

	sceneCh := make(chan sceneResult, 1)
	e.sched.EnqueueDeferred(scheduler.KindImagePipeline, func(ctx context.Context) error {
		scene, mood, err := e.extractScene(ctx, content)
		sceneCh <- sceneResult{scene: scene, mood: mood, err: err}
		return err
	})

	go e.runImagePipelineTail(chapterNumber, protagonist, agency, visuals, sceneCh)
}

type sceneResult struct {
	scene string
	mood  string
	err   error
}

type synthResult struct {
	imgPrompt string
	err       error
}

func (e *Engine) runImagePipelineTail(chapterNumber int, protagonist string, agency *model.Agency, visuals map[string]string, sceneCh <-chan sceneResult) {
	var sr sceneResult
	select {
	case sr = <-sceneCh:
	case <-e.ctx.Done():
		return
	}
	if sr.err != nil {
		slog.Warn("image pipeline scene extraction failed", "chapter_number", chapterNumber, "error", sr.err)
		return
	}

	synthCh := make(chan synthResult, 1)
	e.sched.EnqueueDeferred(scheduler.KindImagePipeline, func(ctx context.Context) error {
		p, err := e.synthesizeImagePrompt(ctx, sr.scene, sr.mood, protagonist, agency, visuals)
		synthCh <- synthResult{imgPrompt: p, err: err}
		return err
	})

	var yr synthResult
	select {
	case yr = <-synthCh:
	case <-e.ctx.Done():
		return
	}
	if yr.err != nil {
		slog.Warn("image pipeline prompt synthesis failed", "chapter_number", chapterNumber, "error", yr.err)
		return
	}

	err := e.sched.RunConcurrent(e.ctx, scheduler.KindImagePipeline, func(ctx context.Context) error {
		bytes, err := e.deps.ImageGen.Generate(ctx, yr.imgPrompt)
		if err != nil {
			return err
		}
		e.emit(imageFrame{Type: "image", Chapter: chapterNumber, BytesBase64: base64.StdEncoding.EncodeToString(bytes)})
		return nil
	})
	if err != nil {
		// ImageUnavailable is non-fatal per spec.md §7: the image frame is
		// simply omitted.
		slog.Warn("image generation unavailable", "chapter_number", chapterNumber, "error", err)
	}
}

func (e *Engine) extractScene(ctx context.Context, content string) (scene, mood string, err error) {
	out, err := e.deps.TextGen.CompleteJSON(ctx, prompt.ComposeImageScene(content))
	if err != nil {
		return "", "", err
	}
	var parsed struct {
		Scene string `json:"scene"`
		Mood  string `json:"mood"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return "", "", err
	}
	return parsed.Scene, parsed.Mood, nil
}

func (e *Engine) synthesizeImagePrompt(ctx context.Context, scene, mood, protagonist string, agency *model.Agency, visuals map[string]string) (string, error) {
	out, err := e.deps.TextGen.CompleteJSON(ctx, prompt.ComposeImageSynthesis(scene, protagonist, agency, visuals, mood))
	if err != nil {
		return "", err
	}
	var parsed struct {
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return "", err
	}
	return parsed.Prompt, nil
}

func copyVisuals(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
