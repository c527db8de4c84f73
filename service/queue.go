package service

import (
	"encoding/json"
	"fmt"
	"time"

	"microfilm-server/config"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

const TypeSaveMetadata = "film:save_metadata"

// MetadataPayload is the run record persisted next to the clips in storage.
type MetadataPayload struct {
	Slug    string `json:"slug"`
	Script  string `json:"script,omitempty"`
	Shots   string `json:"shots,omitempty"`
	Concept string `json:"concept,omitempty"`
}

var QueueClient *asynq.Client

func InitQueue() {
	QueueClient = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     config.AppConfig.Redis.Addr,
		Password: config.AppConfig.Redis.Password,
	})
}

// EnqueueMetadataSave schedules the asynchronous metadata persistence for a
// run. It requires a slug and at least one of script/shots/concept; failures
// here are the caller's to log, never to surface.
func EnqueueMetadataSave(slug, script, shots, concept string) error {
	if slug == "" {
		return fmt.Errorf("empty slug")
	}
	if script == "" && shots == "" && concept == "" {
		return fmt.Errorf("nothing to persist for %s", slug)
	}
	payload, err := json.Marshal(MetadataPayload{
		Slug:    slug,
		Script:  script,
		Shots:   shots,
		Concept: concept,
	})
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(TypeSaveMetadata, payload,
		asynq.MaxRetry(3),
		asynq.Timeout(2*time.Minute),
		asynq.Retention(24*time.Hour),
	)
	info, err := QueueClient.Enqueue(task)
	if err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	log.Info().Str("slug", slug).Str("task_id", info.ID).Msg("metadata save enqueued")
	return nil
}
