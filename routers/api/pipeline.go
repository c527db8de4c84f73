package api

import (
	"encoding/json"
	"net/http"

	"microfilm-server/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Proxy endpoints: forward the JSON body to the corresponding agent stage
// and normalize the response. Transport failures become the uniform
// {error} envelope with a 500.

func (h *Handler) ValidateConcept(c *gin.Context) {
	var req struct {
		Concept string `json:"concept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Concept == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concept is required"})
		return
	}

	verdict, err := h.Agent.ValidateConcept(c.Request.Context(), req.Concept)
	if err != nil {
		log.Error().Err(err).Msg("validate concept failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate concept"})
		return
	}
	c.JSON(http.StatusOK, verdict)
}

func (h *Handler) GenerateScript(c *gin.Context) {
	var req struct {
		Concept string `json:"concept"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Concept == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "concept is required"})
		return
	}

	text, err := h.Agent.GenerateScript(c.Request.Context(), req.Concept)
	if err != nil {
		log.Error().Err(err).Msg("generate script failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate script"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": text})
}

func (h *Handler) ValidateScript(c *gin.Context) {
	var req struct {
		Script string `json:"script"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script is required"})
		return
	}

	text, err := h.Agent.ValidateScript(c.Request.Context(), req.Script)
	if err != nil {
		log.Error().Err(err).Msg("validate script failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate script"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": text})
}

func (h *Handler) PlanShots(c *gin.Context) {
	var req struct {
		Script              string `json:"script"`
		PreferredSoundStyle string `json:"preferred_sound_style"`
		TargetPlatform      string `json:"target_platform"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Script == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "script is required"})
		return
	}

	text, err := h.Agent.PlanShots(c.Request.Context(), service.PlanShotsRequest{
		Script:              req.Script,
		PreferredSoundStyle: req.PreferredSoundStyle,
		TargetPlatform:      req.TargetPlatform,
	})
	if err != nil {
		log.Error().Err(err).Msg("plan shots failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to plan shots"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": text})
}

func (h *Handler) RandomConcepts(c *gin.Context) {
	var body json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		body = json.RawMessage("{}")
	}

	out, err := h.Agent.RandomConcepts(c.Request.Context(), body)
	if err != nil {
		log.Error().Err(err).Msg("random concepts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate random concepts"})
		return
	}
	c.Data(http.StatusOK, "application/json", out)
}
