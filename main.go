package main

import (
	"net/http"
	"os"
	"time"

	"microfilm-server/config"
	"microfilm-server/models"
	"microfilm-server/routers"
	"microfilm-server/routers/api"
	"microfilm-server/service"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// .env is for local dev only; deployments set real environment vars.
	_ = godotenv.Load()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	config.InitConfig()
	models.InitDB()
	service.InitQueue()

	objects, err := service.NewMinIOStoreFromConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("object store init failed")
	}

	processor := service.NewProcessor(objects)
	processor.Start(5)

	agent := service.NewAgentClient(config.AppConfig.Agent.BaseURL, config.AppConfig.Agent.AccessToken)
	generator := service.NewGenerator(config.AppConfig.VideoGen.BaseURL, config.AppConfig.VideoGen.APIKey, objects)
	stitcher := service.NewStitcher()
	store := &service.DBFilmStore{DB: models.GormDB}

	runner := &service.Runner{
		Store:      store,
		Generator:  generator,
		Stitcher:   stitcher,
		Objects:    objects,
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		Metadata:   service.EnqueueMetadataSave,
	}
	pipeline := service.NewPipeline(agent, store, runner)

	h := &api.Handler{
		DB:              models.GormDB,
		Agent:           agent,
		Generator:       generator,
		Objects:         objects,
		Pipeline:        pipeline,
		EnqueueMetadata: service.EnqueueMetadataSave,
	}

	r := routers.InitRouter(h)
	log.Info().Str("port", config.AppConfig.Server.Port).Msg("server starting")
	if err := r.Run(config.AppConfig.Server.Port); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
