package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnqueueMetadataSave_Validation(t *testing.T) {
	// Both checks reject before anything is enqueued.
	assert.Error(t, EnqueueMetadataSave("", "script", "", ""))
	assert.Error(t, EnqueueMetadataSave("a-red-bird-100", "", "", ""))
}
