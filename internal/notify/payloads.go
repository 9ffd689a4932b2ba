package notify

import "github.com/goflagship/experiments/internal/store"

// ExperimentSummary is the experiment shape embedded in outgoing event and
// response payloads.
type ExperimentSummary struct {
	ID     string                 `json:"id"`
	Key    string                 `json:"key"`
	Name   string                 `json:"name"`
	Status store.ExperimentStatus `json:"status"`
	Kind   store.ExperimentKind   `json:"kind"`
}

// VariantSummary is the variant shape embedded in outgoing payloads.
type VariantSummary struct {
	ID      string         `json:"id"`
	Key     string         `json:"key"`
	Payload map[string]any `json:"payload"`
}

// ExperimentUpdatePayload is published to group experiment:{id} on any
// Variant mutation of a running experiment.
type ExperimentUpdatePayload struct {
	Experiment ExperimentSummary `json:"experiment"`
	Variant    VariantSummary    `json:"variant"`
}

// DistributionUpdatePayload is published to group user:{id} on
// Distribution creation or variant change for a running experiment
//.
type DistributionUpdatePayload struct {
	Experiment ExperimentSummary `json:"experiment"`
	Variant    VariantSummary    `json:"variant"`
}

// Summarize converts store types to their wire summaries.
func SummarizeExperiment(e *store.Experiment) ExperimentSummary {
	return ExperimentSummary{ID: e.ID, Key: e.Key, Name: e.Name, Status: e.Status, Kind: e.Kind}
}

func SummarizeVariant(v *store.Variant) VariantSummary {
	return VariantSummary{ID: v.ID, Key: v.Key, Payload: v.Payload}
}
