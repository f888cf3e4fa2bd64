package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_Terminal(t *testing.T) {
	terminal := []RunStatus{RunStatusCompleted, RunStatusFailed, RunStatusCancelled}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}

	active := []RunStatus{RunStatusPending, RunStatusPendingOCR, RunStatusProcessing}
	for _, s := range active {
		assert.False(t, s.Terminal(), "%s should not be terminal", s)
	}
}

func TestTokenUsage_AddAndTotal(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 40, EmbeddingTokens: 500}
	u.Add(TokenUsage{
		InputTokens:         50,
		OutputTokens:        10,
		CacheCreationTokens: 200,
		CacheReadTokens:     300,
		EmbeddingTokens:     25,
	})

	assert.Equal(t, 150, u.InputTokens)
	assert.Equal(t, 50, u.OutputTokens)
	assert.Equal(t, 200, u.CacheCreationTokens)
	assert.Equal(t, 300, u.CacheReadTokens)
	assert.Equal(t, 525, u.EmbeddingTokens)
	assert.Equal(t, 200, u.Total())
}

func TestValidRiskLevel(t *testing.T) {
	for _, s := range []string{"low", "medium", "high", "critical"} {
		assert.True(t, ValidRiskLevel(s), s)
	}
	for _, s := range []string{"", "LOW", "severe", "moderate"} {
		assert.False(t, ValidRiskLevel(s), s)
	}
}
