package api

import (
	"net/http"
	"time"

	"microfilm-server/models"
	"microfilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Defaults applied when the client omits presentation settings.
const (
	defaultLanguage   = "English"
	defaultPlatform   = "YouTube Shorts"
	defaultTone       = "Inspirational"
	defaultSoundStyle = "Nasheed"
)

// CreateFilm opens a run from a one-line concept and drives the pipeline
// through concept validation and script generation. The response carries
// the film (now awaiting the user's script review) plus the message log.
func (h *Handler) CreateFilm(c *gin.Context) {
	var req struct {
		Concept             string `json:"concept"`
		Language            string `json:"language"`
		TargetPlatform      string `json:"target_platform"`
		Tone                string `json:"tone"`
		PreferredSoundStyle string `json:"preferred_sound_style"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Concept == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concept is required"})
		return
	}
	if req.Language == "" {
		req.Language = defaultLanguage
	}
	if req.TargetPlatform == "" {
		req.TargetPlatform = defaultPlatform
	}
	if req.Tone == "" {
		req.Tone = defaultTone
	}
	if req.PreferredSoundStyle == "" {
		req.PreferredSoundStyle = defaultSoundStyle
	}

	film := models.Film{
		ID:             uuid.NewString(),
		Slug:           service.MakeFilmSlug(req.Concept),
		Step:           models.StepIdle,
		Language:       req.Language,
		TargetPlatform: req.TargetPlatform,
		Tone:           req.Tone,
		SoundStyle:     req.PreferredSoundStyle,
	}
	if err := models.CreateFilm(h.DB, &film); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create film: " + err.Error()})
		return
	}

	if err := h.Pipeline.SubmitConcept(c.Request.Context(), &film, req.Concept); err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("concept stage failed")
	}

	messages, _ := models.GetFilmMessages(h.DB, film.ID)
	c.JSON(http.StatusOK, gin.H{
		"film":     film,
		"messages": messages,
	})
}

// SubmitScript continues a run with the user's (possibly edited) script:
// validation, shot planning, and the one-shot video generation trigger.
func (h *Handler) SubmitScript(c *gin.Context) {
	film, ok := h.loadFilm(c)
	if !ok {
		return
	}

	var req struct {
		Script string `json:"script"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script is required"})
		return
	}

	if err := h.Pipeline.SubmitScript(c.Request.Context(), film, req.Script); err != nil {
		log.Error().Err(err).Str("slug", film.Slug).Msg("script stage failed")
	}

	messages, _ := models.GetFilmMessages(h.DB, film.ID)
	c.JSON(http.StatusOK, gin.H{
		"film":     film,
		"messages": messages,
	})
}

func (h *Handler) GetFilm(c *gin.Context) {
	film, ok := h.loadFilm(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"film": film})
}

func (h *Handler) GetFilmMessages(c *gin.Context) {
	film, ok := h.loadFilm(c)
	if !ok {
		return
	}
	messages, err := models.GetFilmMessages(h.DB, film.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (h *Handler) loadFilm(c *gin.Context) (*models.Film, bool) {
	slug := c.Param("slug")
	film, err := models.GetFilmBySlug(h.DB, slug)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "film not found: " + err.Error()})
		return nil, false
	}
	return film, true
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// FilmProgressWebSocket pushes a film's generation progress. The generation
// run writes step/progress to the DB; this handler only reads and pushes
// changes, closing once the run reaches a terminal state.
func (h *Handler) FilmProgressWebSocket(c *gin.Context) {
	slug := c.Param("slug")
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "websocket upgrade failed"})
		return
	}
	defer conn.Close()

	film, err := models.GetFilmBySlug(h.DB, slug)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": "film not found"})
		return
	}
	_ = conn.WriteJSON(progressFrame(film))

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	prevStep := film.Step
	prevProgress := film.Progress

	for range ticker.C {
		cur, err := models.GetFilmBySlug(h.DB, slug)
		if err != nil {
			continue
		}
		if cur.Step != prevStep || cur.Progress != prevProgress {
			if err := conn.WriteJSON(progressFrame(cur)); err != nil {
				break
			}
			prevStep = cur.Step
			prevProgress = cur.Progress
		}
		if cur.Step == models.StepCompleted && (cur.VideoUrl != "" || cur.Error != "" || !cur.VideoAttempted) {
			_ = conn.WriteJSON(progressFrame(cur))
			break
		}
	}
}

func progressFrame(f *models.Film) gin.H {
	return gin.H{
		"slug":     f.Slug,
		"step":     f.Step,
		"progress": f.Progress,
		"videoUrl": f.VideoUrl,
		"error":    f.Error,
	}
}
