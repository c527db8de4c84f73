package service

import (
	"context"
	"encoding/json"
	"fmt"

	"microfilm-server/config"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// Processor consumes queued tasks. Metadata persistence is the only task
// type today; it runs out-of-band so a storage hiccup can never block or
// fail a user-visible response. Asynq retries it, and terminal failures are
// logged only.
type Processor struct {
	Objects ObjectStore
}

func NewProcessor(objects ObjectStore) *Processor {
	return &Processor{Objects: objects}
}

func (p *Processor) Start(concurrency int) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     config.AppConfig.Redis.Addr,
			Password: config.AppConfig.Redis.Password,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSaveMetadata, p.HandleSaveMetadata)

	log.Info().Int("concurrency", concurrency).Msg("starting task processor")
	go func() {
		if err := srv.Run(mux); err != nil {
			log.Fatal().Err(err).Msg("task processor stopped")
		}
	}()
}

func (p *Processor) HandleSaveMetadata(ctx context.Context, t *asynq.Task) error {
	var payload MetadataPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload failed: %v: %w", err, asynq.SkipRetry)
	}

	url, err := SaveFilmMetadata(ctx, p.Objects, payload.Slug, FilmMetadata{
		Script:  payload.Script,
		Shots:   payload.Shots,
		Concept: payload.Concept,
	})
	if err != nil {
		log.Warn().Err(err).Str("slug", payload.Slug).Msg("metadata save failed")
		return err
	}
	log.Info().Str("slug", payload.Slug).Str("url", url).Msg("metadata saved")
	return nil
}
