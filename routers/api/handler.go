package api

import (
	"microfilm-server/service"

	"gorm.io/gorm"
)

// Handler carries the service clients the endpoints need. Constructed once
// in main and shared across requests.
type Handler struct {
	DB        *gorm.DB
	Agent     *service.AgentClient
	Generator *service.Generator
	Objects   service.ObjectStore
	Pipeline  *service.Pipeline
	// EnqueueMetadata is the async persistence hook; nil disables it.
	EnqueueMetadata func(slug, script, shots, concept string) error
}
