package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobState_CanTransition(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobCreated, JobScraping, true},
		{JobScraping, JobDetecting, true},
		{JobDetecting, JobEnriching, true},
		{JobEnriching, JobPublishing, true},
		{JobPublishing, JobCompleted, true},
		{JobCreated, JobDetecting, false},
		{JobEnriching, JobScraping, false},
		{JobDetecting, JobFailed, true},
		{JobCreated, JobFailed, true},
		{JobCompleted, JobFailed, false},
		{JobFailed, JobScraping, false},
		{JobScraping, JobState("paused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransition(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestJobState_Terminal(t *testing.T) {
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobPublishing.Terminal())
}
