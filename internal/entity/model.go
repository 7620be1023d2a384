package entity

import "github.com/google/uuid"

// ModelBinding is what the model lookup returns for a model id.
type ModelBinding struct {
	ModelID       string
	ProviderID    uuid.UUID
	ProviderSlug  string
	Category      Category
	ExternalModel string
	MaxRetries    *int
}

// RetryBudget returns the model override or the given default.
func (m ModelBinding) RetryBudget(def int) int {
	if m.MaxRetries != nil && *m.MaxRetries > 0 {
		return *m.MaxRetries
	}
	if def <= 0 {
		return DefaultMaxRetries
	}
	return def
}
