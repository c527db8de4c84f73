package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"

	"microfilm-server/models"

	"github.com/rs/zerolog/log"
)

// Runner executes the asynchronous tail of the pipeline for one film:
// normalize the shot plan, generate a clip per shot, stitch, and park the
// final video in durable storage. It owns the film's progress column so the
// websocket push has something to report.
type Runner struct {
	Store      FilmStore
	Generator  *Generator
	Stitcher   *Stitcher
	Objects    ObjectStore
	HTTPClient *http.Client
	// Metadata enqueues the asynchronous metadata save; nil disables it.
	Metadata func(slug, script, shots, concept string) error
}

func (r *Runner) Launch(film *models.Film) {
	go r.run(context.Background(), film)
}

func (r *Runner) run(ctx context.Context, film *models.Film) {
	prompts := ParseShotPrompts(film.Shots)
	if len(prompts) == 0 {
		r.finish(film, "", nil, "No valid shots found")
		return
	}

	// Side effect only: a failed metadata save never touches the run.
	if r.Metadata != nil && film.Slug != "" {
		if err := r.Metadata(film.Slug, film.Script, film.Shots, film.Concept); err != nil {
			log.Warn().Err(err).Str("slug", film.Slug).Msg("metadata save enqueue failed")
		}
	}

	clipURLs, err := r.Generator.GenerateClips(ctx, prompts, film.Slug, func(done, total int) {
		r.progress(film, done*70/total)
	})
	if err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("clip generation failed")
		r.finish(film, "", nil, userFacingMessage(err))
		return
	}

	clips, err := DownloadClips(ctx, r.HTTPClient, clipURLs)
	if err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("clip download failed")
		r.finish(film, "", clipURLs, "Failed to download generated clips")
		return
	}

	final, err := r.Stitcher.Stitch(ctx, clips, func(p int) {
		r.progress(film, 70+p*25/100)
	})
	if err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("stitch failed")
		r.finish(film, "", clipURLs, "Failed to stitch videos: "+err.Error())
		return
	}

	objectName := fmt.Sprintf("videos/%s/%s_final.mp4", film.Slug, film.Slug)
	videoURL, err := r.Objects.Upload(ctx, bytes.NewReader(final), objectName, int64(len(final)))
	if err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("final upload failed")
		r.finish(film, "", clipURLs, "Failed to upload final video")
		return
	}

	r.finish(film, videoURL, clipURLs, "")
	log.Info().Str("slug", film.Slug).Int("shots", len(prompts)).Msg("film generated")
}

// finish re-enters completed whether the run succeeded or permanently
// failed; the step transition is idempotent and the error column carries the
// outcome.
func (r *Runner) finish(film *models.Film, videoURL string, clipURLs []string, errMsg string) {
	updates := map[string]interface{}{
		"step":  models.StepCompleted,
		"error": errMsg,
	}
	if videoURL != "" {
		updates["video_url"] = videoURL
		updates["progress"] = 100
	} else {
		// A failed run must not report its last mid-run percentage.
		updates["progress"] = 0
	}
	if clipURLs != nil {
		updates["clip_urls"] = models.StringList(clipURLs)
	}
	if err := r.Store.UpdateFilm(film, updates); err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("film finish update failed")
	}
	film.Step = models.StepCompleted
	film.VideoUrl = videoURL
	film.Error = errMsg

	if errMsg != "" {
		r.message(film, "Video generation failed: "+errMsg, models.MessageTypeError)
	} else {
		r.message(film, "Your film is ready! Download it from the film panel.", "")
	}
}

func (r *Runner) progress(film *models.Film, pct int) {
	if err := r.Store.UpdateFilm(film, map[string]interface{}{"progress": pct}); err != nil {
		log.Warn().Err(err).Str("slug", film.Slug).Msg("progress update failed")
	}
}

func (r *Runner) message(film *models.Film, content, msgType string) {
	_ = r.Store.AppendMessage(&models.FilmMessage{
		FilmID:  film.ID,
		Role:    models.RoleAssistant,
		Content: content,
		Type:    msgType,
	})
}

// userFacingMessage keeps credit-exhaustion text verbatim (it is an
// operator-side problem the user needs to see) and keeps the rest terse.
func userFacingMessage(err error) string {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		switch genErr.Kind {
		case ErrKindCreditExhausted:
			return genErr.Message
		default:
			return genErr.Error()
		}
	}
	return err.Error()
}
