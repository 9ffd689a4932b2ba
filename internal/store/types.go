package store

import "time"

// ExperimentStatus is the lifecycle stage of an Experiment.
type ExperimentStatus string

const (
	ExperimentStatusDraft     ExperimentStatus = "draft"
	ExperimentStatusRunning   ExperimentStatus = "running"
	ExperimentStatusCompleted ExperimentStatus = "completed"
)

// ExperimentKind constrains the variant shape of an Experiment.
type ExperimentKind string

const (
	ExperimentKindToggle ExperimentKind = "toggle"
	ExperimentKindMulti  ExperimentKind = "multi"
)

// Project owns Experiments and Users and is the unit of API-key auth.
type Project struct {
	ID          string
	Owner       string
	APIKey      string
	Title       string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Experiment is a named split under a Project.
type Experiment struct {
	ID          string
	ProjectID   string
	Key         string
	Name        string
	Description string
	Status      ExperimentStatus
	Kind        ExperimentKind
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Variant is a branch of an Experiment with its traffic share.
type Variant struct {
	ID           string
	ExperimentID string
	Key          string
	Payload      map[string]any
	Rollout      float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserMetadata holds the latest-observed, non-identifying attributes of a User.
type UserMetadata struct {
	URL        string
	OS         string
	OSVersion  string
	DeviceType string
}

// User is a project-scoped subject resolved from one or more identifiers.
type User struct {
	ID         string
	ProjectID  string
	DeviceID   *string
	Email      *string
	ExternalID *string
	Metadata   UserMetadata
	Properties map[string]any
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Distribution is the materialized assignment of a User to a Variant of an Experiment.
type Distribution struct {
	ID           string
	UserID       string
	ExperimentID string
	VariantID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AdminRole distinguishes administrative privilege levels.
type AdminRole string

const (
	AdminRoleOwner AdminRole = "owner"
	AdminRoleAdmin AdminRole = "admin"
)

// AdminUser is the authenticated principal behind admin operations.
type AdminUser struct {
	ID           string
	Email        string
	PasswordHash string
	Role         AdminRole
	CreatedAt    time.Time
}

// IdentifierSet names the disjunctive lookup/creation fields used by the
// Identity Resolver. At least one field must be non-empty.
type IdentifierSet struct {
	ID         string
	DeviceID   string
	Email      string
	ExternalID string
}

// Empty reports whether no identifier was supplied.
func (s IdentifierSet) Empty() bool {
	return s.ID == "" && s.DeviceID == "" && s.Email == "" && s.ExternalID == ""
}

// Webhook is a project-scoped HTTP delivery target for change events.
type Webhook struct {
	ID              string
	ProjectID       string
	URL             string
	Secret          string
	Events          []string
	Active          bool
	MaxRetries      int
	TimeoutSeconds  int
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// WebhookDelivery records one delivery attempt of an event to a Webhook.
type WebhookDelivery struct {
	ID           string
	WebhookID    string
	EventType    string
	Payload      []byte
	StatusCode   int
	ResponseBody string
	ErrorMessage string
	DurationMs   int
	Success      bool
	RetryCount   int
	CreatedAt    time.Time
}

// ActorKind distinguishes who performed an audited action.
type ActorKind string

const (
	ActorKindAdmin ActorKind = "admin"
	ActorKindAPI   ActorKind = "api"
	ActorKindSystem ActorKind = "system"
)

// AuditEntry is one row of the audit log (project/experiment/variant/
// user/distribution mutations).
type AuditEntry struct {
	ID           string
	ProjectID    string
	ActorKind    ActorKind
	ActorID      string
	Action       string
	ResourceType string
	ResourceID   string
	Status       string
	BeforeState  map[string]any
	AfterState   map[string]any
	Changes      map[string]any
	RequestID    string
	IPAddress    string
	UserAgent    string
	CreatedAt    time.Time
}
