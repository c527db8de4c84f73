package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"microfilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// GenerateVideo normalizes the shots payload, fans out one generation job
// per shot, and returns the durable clip URLs in shot order. The stitch
// step stays with the caller: browsers assemble locally, other clients use
// /stitch-and-upload.
func (h *Handler) GenerateVideo(c *gin.Context) {
	var req struct {
		Shots    json.RawMessage `json:"shots"`
		FilmSlug string          `json:"filmSlug"`
		Script   string          `json:"script"`
		Concept  string          `json:"concept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shots format"})
		return
	}

	var shotsValue interface{}
	if len(req.Shots) > 0 {
		if err := json.Unmarshal(req.Shots, &shotsValue); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shots format"})
			return
		}
	}

	prompts := service.ParseShotPrompts(shotsValue)
	if len(prompts) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid shots found"})
		return
	}

	if h.EnqueueMetadata != nil && req.FilmSlug != "" {
		shotsText := string(req.Shots)
		if err := h.EnqueueMetadata(req.FilmSlug, req.Script, shotsText, req.Concept); err != nil {
			log.Warn().Err(err).Str("slug", req.FilmSlug).Msg("metadata save enqueue failed")
		}
	}

	urls, err := h.Generator.GenerateClips(c.Request.Context(), prompts, req.FilmSlug, nil)
	if err != nil {
		log.Error().Err(err).Str("slug", req.FilmSlug).Msg("video generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": generationErrorMessage(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"videos":  urls,
		"count":   len(urls),
	})
}

// generationErrorMessage keeps the credit-exhaustion text verbatim and
// gives timeouts their own wording; everything else passes through the
// aggregate error.
func generationErrorMessage(err error) string {
	var genErr *service.GenerationError
	if errors.As(err, &genErr) {
		if genErr.Kind == service.ErrKindCreditExhausted {
			return genErr.Message
		}
		return genErr.Error()
	}
	return "Failed to generate videos"
}

// StitchAndUpload accepts a pre-stitched video file as multipart form data
// and parks it in durable storage, for environments that cannot stitch
// locally.
func (h *Handler) StitchAndUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("video")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No video file provided"})
		return
	}
	filmID := c.PostForm("filmId")

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read video file"})
		return
	}
	defer file.Close()

	objectName := fmt.Sprintf("videos/%s/%s_final.mp4", filmID, filmID)
	if filmID == "" {
		objectName = fmt.Sprintf("videos/%s_final.mp4", uuid.NewString())
	}

	url, err := h.Objects.Upload(c.Request.Context(), file, objectName, fileHeader.Size)
	if err != nil {
		log.Error().Err(err).Str("film_id", filmID).Msg("final video upload failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload video"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"videoUrl": url,
	})
}
