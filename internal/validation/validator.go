// Package validation provides validation rules for project, experiment,
// variant and user request parameters, with
// ValidationResult/AddError/Merge pattern.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/goflagship/experiments/internal/store"
)

const (
	// MaxKeyLength is the maximum length for experiment/variant keys.
	MaxKeyLength = 64
	// MaxTitleLength is the maximum length for project titles.
	MaxTitleLength = 128
	// MaxDescriptionLength is the maximum length for descriptions.
	MaxDescriptionLength = 500
	// MaxPayloadSize is the maximum serialized size of a variant payload, in bytes.
	MaxPayloadSize = 100 * 1024
)

// keyPattern matches alphanumeric characters, underscores, and hyphens.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationResult holds the result of validation.
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

// NewValidationResult creates a valid (empty) result.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true, Errors: make(map[string]string)}
}

// AddError records a field error and marks the result invalid.
func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors[field] = message
}

// Merge folds another result's errors into this one.
func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// ValidateKey validates an experiment or variant key.
func ValidateKey(field, key string) *ValidationResult {
	result := NewValidationResult()
	key = strings.TrimSpace(key)
	if key == "" {
		result.AddError(field, "key is required")
		return result
	}
	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.AddError(field, "key must not exceed 64 characters")
		return result
	}
	if !keyPattern.MatchString(key) {
		result.AddError(field, "key must contain only alphanumeric characters, underscores, and hyphens")
	}
	return result
}

// ValidateProject validates project creation/update fields.
func ValidateProject(p *store.Project) *ValidationResult {
	result := NewValidationResult()
	if strings.TrimSpace(p.Title) == "" {
		result.AddError("title", "title is required")
	} else if utf8.RuneCountInString(p.Title) > MaxTitleLength {
		result.AddError("title", "title must not exceed 128 characters")
	}
	if utf8.RuneCountInString(p.Description) > MaxDescriptionLength {
		result.AddError("description", "description must not exceed 500 characters")
	}
	return result
}

// ValidateExperiment validates experiment creation/update fields.
func ValidateExperiment(e *store.Experiment) *ValidationResult {
	result := NewValidationResult()
	result.Merge(ValidateKey("key", e.Key))
	if strings.TrimSpace(e.Name) == "" {
		result.AddError("name", "name is required")
	}
	if utf8.RuneCountInString(e.Description) > MaxDescriptionLength {
		result.AddError("description", "description must not exceed 500 characters")
	}
	switch e.Kind {
	case store.ExperimentKindToggle, store.ExperimentKindMulti:
	default:
		result.AddError("kind", "kind must be toggle or multi")
	}
	switch e.Status {
	case store.ExperimentStatusDraft, store.ExperimentStatusRunning, store.ExperimentStatusCompleted:
	default:
		result.AddError("status", "status must be draft, running or completed")
	}
	return result
}

// ValidateVariant validates an individual variant's key and payload size.
// Rollout-sum validation is the Rollout Validator's responsibility
// (internal/rollout), not this package's.
func ValidateVariant(v *store.Variant, payloadJSONSize int) *ValidationResult {
	result := NewValidationResult()
	result.Merge(ValidateKey("key", v.Key))
	if v.Rollout < 0 || v.Rollout > 1 {
		result.AddError("rollout", "rollout must be between 0 and 1")
	}
	if payloadJSONSize > MaxPayloadSize {
		result.AddError("payload", "payload must not exceed 100KB")
	}
	return result
}

// ValidateIdentifierSet requires at least one identifier to be present,
// matching the Identity Resolver's own check but surfaced
// earlier, at the request-parsing boundary, with field-level detail.
func ValidateIdentifierSet(ids store.IdentifierSet) *ValidationResult {
	result := NewValidationResult()
	if ids.Empty() {
		result.AddError("identifiers", "at least one of id, device_id, email, external_id is required")
	}
	return result
}
