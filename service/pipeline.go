package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"microfilm-server/models"

	"gorm.io/gorm"
)

// Agent is the subset of the agent client the pipeline drives.
type Agent interface {
	ValidateConcept(ctx context.Context, concept string) (*ConceptValidation, error)
	GenerateScript(ctx context.Context, concept string) (string, error)
	ValidateScript(ctx context.Context, script string) (string, error)
	PlanShots(ctx context.Context, req PlanShotsRequest) (string, error)
}

// FilmStore persists film state and the append-only message log.
type FilmStore interface {
	UpdateFilm(film *models.Film, updates map[string]interface{}) error
	AppendMessage(msg *models.FilmMessage) error
}

// VideoLauncher starts the asynchronous video generation run for a film.
// The pipeline guarantees it is invoked at most once per film.
type VideoLauncher interface {
	Launch(film *models.Film)
}

// Pipeline is the strictly ordered step machine behind the chat flow:
// validate concept -> generate script -> validate (edited) script -> plan
// shots -> generate video. Any stage error or soft validation failure
// returns the film to idle; the user resubmits from the concept step.
type Pipeline struct {
	agent    Agent
	store    FilmStore
	launcher VideoLauncher
}

func NewPipeline(agent Agent, store FilmStore, launcher VideoLauncher) *Pipeline {
	return &Pipeline{agent: agent, store: store, launcher: launcher}
}

// SubmitConcept runs the concept through validation and, when it passes,
// generates the first script draft. The film ends in validating-script with
// the draft attached (awaiting the user's edit), or back in idle.
func (p *Pipeline) SubmitConcept(ctx context.Context, film *models.Film, concept string) error {
	concept = strings.TrimSpace(concept)
	if concept == "" {
		return fmt.Errorf("empty concept")
	}

	p.say(film, models.RoleUser, concept, "")
	if err := p.store.UpdateFilm(film, map[string]interface{}{
		"step":    models.StepValidatingConcept,
		"concept": concept,
	}); err != nil {
		return err
	}
	film.Step = models.StepValidatingConcept
	film.Concept = concept

	verdict, err := p.agent.ValidateConcept(ctx, concept)
	if err != nil {
		p.fail(film, "Failed to validate concept")
		return err
	}
	if !verdict.IsSafe || len(verdict.Issues) > 0 {
		guidance := strings.Join(append(verdict.Issues, verdict.Suggestions...), "\n")
		if guidance == "" {
			guidance = "The concept does not align with our guidelines."
		}
		p.say(film, models.RoleAssistant, guidance+"\n\nPlease try a different concept that aligns with our guidelines.", models.MessageTypeSuggestion)
		p.reset(film)
		return nil
	}

	p.say(film, models.RoleAssistant, "Concept validated! Generating script...", "")
	if err := p.step(film, models.StepGeneratingScript, nil); err != nil {
		return err
	}

	script, err := p.agent.GenerateScript(ctx, concept)
	if err != nil {
		p.fail(film, "Failed to generate script")
		return err
	}
	script = strings.TrimSpace(script)
	if script == "" {
		p.fail(film, "Failed to generate script")
		return fmt.Errorf("agent returned empty script")
	}

	if err := p.step(film, models.StepValidatingScript, map[string]interface{}{"script": script}); err != nil {
		return err
	}
	film.Script = script
	p.say(film, models.RoleAssistant, "Script generated! You can review and edit it before continuing.", "")
	p.say(film, models.RoleAssistant, script, models.MessageTypeScript)
	return nil
}

// SubmitScript validates the (possibly edited) script, plans the shots and
// enters completed. Entering completed with shots present triggers video
// generation exactly once, guarded by the video_attempted flag set in the
// same update that moves the film forward.
func (p *Pipeline) SubmitScript(ctx context.Context, film *models.Film, script string) error {
	script = strings.TrimSpace(script)
	if script == "" {
		return fmt.Errorf("empty script")
	}
	if err := p.canAcceptScript(film); err != nil {
		return err
	}

	if err := p.step(film, models.StepValidatingScript, map[string]interface{}{"script": script}); err != nil {
		return err
	}
	film.Script = script
	p.say(film, models.RoleAssistant, "Validating your script...", "")

	verdict, err := p.agent.ValidateScript(ctx, script)
	if err != nil {
		p.fail(film, "Failed to validate script")
		return err
	}
	if IsSoftValidationFailure(verdict) {
		p.say(film, models.RoleAssistant,
			fmt.Sprintf("Script validation found issues:\n%s\n\nPlease edit the script to address these issues.", verdict),
			models.MessageTypeError)
		p.reset(film)
		return nil
	}

	p.say(film, models.RoleAssistant, "Script validated! Planning shots...", "")
	if err := p.step(film, models.StepPlanningShots, nil); err != nil {
		return err
	}

	shots, err := p.agent.PlanShots(ctx, PlanShotsRequest{
		Script:              script,
		PreferredSoundStyle: film.SoundStyle,
		TargetPlatform:      film.TargetPlatform,
	})
	if err != nil {
		p.fail(film, "Failed to plan shots")
		return err
	}
	shots = strings.TrimSpace(shots)
	if shots == "" {
		p.fail(film, "Failed to plan shots")
		return fmt.Errorf("agent returned empty shot plan")
	}

	if err := p.step(film, models.StepCompleted, map[string]interface{}{"shots": shots}); err != nil {
		return err
	}
	film.Shots = shots
	p.say(film, models.RoleAssistant, "Film plan ready! Generating your video now.", models.MessageTypeShots)

	return p.maybeLaunchVideo(film)
}

// canAcceptScript gates the script stage: a film mid-generation (or already
// generated) must not have its script, shots, or step rewritten underneath
// the running run. Completed is re-enterable only while video generation was
// never attempted.
func (p *Pipeline) canAcceptScript(film *models.Film) error {
	switch film.Step {
	case models.StepIdle, models.StepValidatingScript:
		return nil
	case models.StepCompleted:
		if film.VideoAttempted {
			return fmt.Errorf("film %s already started video generation", film.Slug)
		}
		return nil
	default:
		return fmt.Errorf("film %s is in step %s and cannot accept a script", film.Slug, film.Step)
	}
}

// maybeLaunchVideo fires the generation run at most once per film: the
// attempted flag is flipped in the same update that moves the film into
// generating-video, so a re-entered completed step cannot re-trigger it.
func (p *Pipeline) maybeLaunchVideo(film *models.Film) error {
	if film.Shots == "" || film.VideoUrl != "" || film.VideoAttempted {
		return nil
	}
	if err := p.store.UpdateFilm(film, map[string]interface{}{
		"step":            models.StepGeneratingVideo,
		"video_attempted": true,
		"progress":        0,
		"error":           "",
	}); err != nil {
		return err
	}
	film.Step = models.StepGeneratingVideo
	film.VideoAttempted = true
	if p.launcher != nil {
		p.launcher.Launch(film)
	}
	return nil
}

func (p *Pipeline) step(film *models.Film, step string, extra map[string]interface{}) error {
	updates := map[string]interface{}{"step": step}
	for k, v := range extra {
		updates[k] = v
	}
	if err := p.store.UpdateFilm(film, updates); err != nil {
		return err
	}
	film.Step = step
	return nil
}

func (p *Pipeline) reset(film *models.Film) {
	_ = p.store.UpdateFilm(film, map[string]interface{}{"step": models.StepIdle})
	film.Step = models.StepIdle
}

func (p *Pipeline) fail(film *models.Film, msg string) {
	p.say(film, models.RoleAssistant, "Error: "+msg, models.MessageTypeError)
	p.reset(film)
}

func (p *Pipeline) say(film *models.Film, role, content, msgType string) {
	_ = p.store.AppendMessage(&models.FilmMessage{
		FilmID:  film.ID,
		Role:    role,
		Content: content,
		Type:    msgType,
	})
}

// DBFilmStore backs FilmStore with the gorm models.
type DBFilmStore struct {
	DB *gorm.DB
}

func (s *DBFilmStore) UpdateFilm(film *models.Film, updates map[string]interface{}) error {
	return film.Update(s.DB, updates)
}

func (s *DBFilmStore) AppendMessage(msg *models.FilmMessage) error {
	return models.AppendFilmMessage(s.DB, msg)
}

var slugStripPattern = regexp.MustCompile(`[^a-z0-9]+`)

// MakeFilmSlug derives a URL-safe identifier from the concept text plus a
// timestamp suffix, used to namespace everything the run writes to storage.
func MakeFilmSlug(concept string) string {
	base := slugStripPattern.ReplaceAllString(strings.ToLower(concept), "-")
	base = strings.Trim(base, "-")
	if len(base) > 48 {
		base = strings.Trim(base[:48], "-")
	}
	if base == "" {
		base = "film"
	}
	return fmt.Sprintf("%s-%d", base, time.Now().Unix())
}
