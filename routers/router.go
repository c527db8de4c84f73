package routers

import (
	"microfilm-server/routers/api"

	"github.com/gin-gonic/gin"
)

func InitRouter(h *api.Handler) *gin.Engine {
	r := gin.Default()
	v1 := r.Group("/v1/api")
	{
		v1.POST("/validate-concept", h.ValidateConcept)
		v1.POST("/generate-script", h.GenerateScript)
		v1.POST("/validate-script", h.ValidateScript)
		v1.POST("/plan-shots", h.PlanShots)
		v1.POST("/random-concept-generator", h.RandomConcepts)
		v1.POST("/generate-video", h.GenerateVideo)
		v1.POST("/stitch-and-upload", h.StitchAndUpload)
		v1.POST("/films", h.CreateFilm)
		v1.POST("/films/:slug/script", h.SubmitScript)
		v1.GET("/films/:slug", h.GetFilm)
		v1.GET("/films/:slug/messages", h.GetFilmMessages)
	}
	r.GET("/films/:slug/ws", h.FilmProgressWebSocket)
	return r
}
