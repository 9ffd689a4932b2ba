// Package store defines the persistence contract for projects, experiments,
// variants, users and distributions, and provides an in-memory and a
// Postgres-backed implementation.
package store

import (
	"context"
	"time"
)

// UserFilter narrows ListUsers by any combination of fields; zero values are
// treated as "don't filter on this field".
type UserFilter struct {
	ProjectID  string
	DeviceID   string
	Email      string
	ExternalID string
}

// DistributionFilter narrows ListDistributions.
type DistributionFilter struct {
	ExperimentID string
	UserID       string
	VariantID    string
}

// ExperimentFilter narrows ListExperiments.
type ExperimentFilter struct {
	ProjectID string
	Status    ExperimentStatus // empty means any
}

// AuditFilter narrows ListAuditEntries.
type AuditFilter struct {
	ProjectID    string
	ResourceType string
	Limit        int
}

// Store is the full persistence surface. Implementations: MemoryStore
// (tests, local dev) and PostgresStore (production).
type Store interface {
	Close() error

	CreateProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error)
	UpdateProject(ctx context.Context, p *Project) error
	DeleteProject(ctx context.Context, id string) error
	ListProjects(ctx context.Context, owner string) ([]*Project, error)

	CreateExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	GetExperimentByKey(ctx context.Context, projectID, key string) (*Experiment, error)
	UpdateExperiment(ctx context.Context, e *Experiment) error
	DeleteExperiment(ctx context.Context, id string) error
	ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*Experiment, error)

	// CreateVariant and UpdateVariant perform a single-row write; callers
	// validate aggregate rollout before calling (internal/rollout).
	CreateVariant(ctx context.Context, v *Variant) error
	GetVariant(ctx context.Context, id string) (*Variant, error)
	// ListVariants returns variants ordered by stable id, the order the
	// Variant Selector's ranges are built in.
	ListVariants(ctx context.Context, experimentID string) ([]*Variant, error)
	UpdateVariant(ctx context.Context, v *Variant) error
	DeleteVariant(ctx context.Context, id string) error
	// ReplaceVariants atomically deletes all variants of an experiment and
	// inserts the given set, used by the Toggle Policy and bulk updates.
	ReplaceVariants(ctx context.Context, experimentID string, variants []*Variant) error

	// FindUsers returns Users matching any supplied identifier, ordered
	// deterministically (first_seen ascending, tiebreak by id) so concurrent
	// resolvers agree on which row is primary.
	FindUsers(ctx context.Context, projectID string, ids IdentifierSet) ([]*User, error)
	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	UpdateUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, filter UserFilter) ([]*User, error)

	GetDistribution(ctx context.Context, userID, experimentID string) (*Distribution, error)
	// CreateDistribution returns ErrUniqueViolation if (user, experiment)
	// already has a row; the caller re-reads via GetDistribution.
	CreateDistribution(ctx context.Context, d *Distribution) error
	UpdateDistributionVariant(ctx context.Context, id, variantID string) error
	ListDistributions(ctx context.Context, filter DistributionFilter) ([]*Distribution, error)
	// DeleteDistributionsByUser removes every Distribution of a user, used
	// when a non-primary User is discarded during a merge.
	DeleteDistributionsByUser(ctx context.Context, userID string) error

	CreateAdminUser(ctx context.Context, a *AdminUser) error
	GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error)

	// CreateWebhook, GetWebhook, ListWebhooks, UpdateWebhook and
	// DeleteWebhook manage the project-scoped delivery targets the
	// Change Notifier's events fan out to over HTTP.
	CreateWebhook(ctx context.Context, wh *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooks(ctx context.Context, projectID string) ([]*Webhook, error)
	// ListActiveWebhooks returns every active Webhook across all projects,
	// for the dispatcher's event-matching sweep.
	ListActiveWebhooks(ctx context.Context) ([]*Webhook, error)
	UpdateWebhook(ctx context.Context, wh *Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	TouchWebhookTriggered(ctx context.Context, id string, at time.Time) error

	// CreateWebhookDelivery records one delivery attempt; ListWebhookDeliveries
	// returns the most recent deliveries of one webhook, newest first.
	CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error
	ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error)

	// CreateAuditEntry appends one row to the audit log; ListAuditEntries
	// returns entries matching filter, newest first.
	CreateAuditEntry(ctx context.Context, e *AuditEntry) error
	ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)

	// WithTx runs fn within a transaction. If fn returns nil the transaction
	// commits and every callback registered via tx.AfterCommit runs, in
	// registration order; if fn returns an error the transaction rolls back
	// and no callback runs. Change events ride these hooks so a rolled-back
	// write never produces an event.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is a Store bound to one transaction, plus post-commit hook registration.
type Tx interface {
	Store
	AfterCommit(fn func())
}
