package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store: hand-written SQL over pgx v5,
// run against the pool directly rather than through generated query
// methods.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-configured pool (see internal/db.NewPool).
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every
// query method below run either standalone or inside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) q() querier { return s.pool }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func marshalJSON(v map[string]any) ([]byte, error) {
	if v == nil {
		v = map[string]any{}
	}
	return json.Marshal(v)
}

func unmarshalJSON(b []byte) map[string]any {
	if len(b) == 0 {
		return map[string]any{}
	}
	out := map[string]any{}
	_ = json.Unmarshal(b, &out)
	return out
}

func nullableString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *Project) error {
	return createProject(ctx, s.q(), p)
}

func createProject(ctx context.Context, q querier, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO projects (id, owner, api_key, title, description, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		p.ID, p.Owner, p.APIKey, p.Title, p.Description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create project: %w", err)
	}
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	if err := row.Scan(&p.ID, &p.Owner, &p.APIKey, &p.Title, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("store: scan project: %w", err)
	}
	return &p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.q().QueryRow(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects WHERE id=$1`, id)
	return scanProject(row)
}

func (s *PostgresStore) GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	row := s.q().QueryRow(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects WHERE api_key=$1`, apiKey)
	return scanProject(row)
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	tag, err := s.q().Exec(ctx, `
		UPDATE projects SET owner=$2, api_key=$3, title=$4, description=$5, updated_at=$6
		WHERE id=$1`, p.ID, p.Owner, p.APIKey, p.Title, p.Description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	p.UpdatedAt = now
	return nil
}

func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	tag, err := s.q().Exec(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, owner string) ([]*Project, error) {
	var rows pgx.Rows
	var err error
	if owner == "" {
		rows, err = s.q().Query(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects ORDER BY id`)
	} else {
		rows, err = s.q().Query(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects WHERE owner=$1 ORDER BY id`, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Experiments ---

func (s *PostgresStore) CreateExperiment(ctx context.Context, e *Experiment) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := s.q().Exec(ctx, `
		INSERT INTO experiments (id, project_id, key, name, description, status, kind, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`,
		e.ID, e.ProjectID, e.Key, e.Name, e.Description, e.Status, e.Kind, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create experiment: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}

func scanExperiment(row pgx.Row) (*Experiment, error) {
	var e Experiment
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Key, &e.Name, &e.Description, &e.Status, &e.Kind, &e.CreatedAt, &e.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExperimentNotFound
		}
		return nil, fmt.Errorf("store: scan experiment: %w", err)
	}
	return &e, nil
}

const experimentCols = `id, project_id, key, name, description, status, kind, created_at, updated_at`

func (s *PostgresStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := s.q().QueryRow(ctx, `SELECT `+experimentCols+` FROM experiments WHERE id=$1`, id)
	return scanExperiment(row)
}

func (s *PostgresStore) GetExperimentByKey(ctx context.Context, projectID, key string) (*Experiment, error) {
	row := s.q().QueryRow(ctx, `SELECT `+experimentCols+` FROM experiments WHERE project_id=$1 AND key=$2`, projectID, key)
	return scanExperiment(row)
}

func (s *PostgresStore) UpdateExperiment(ctx context.Context, e *Experiment) error {
	now := time.Now().UTC()
	tag, err := s.q().Exec(ctx, `
		UPDATE experiments SET key=$2, name=$3, description=$4, status=$5, kind=$6, updated_at=$7
		WHERE id=$1`, e.ID, e.Key, e.Name, e.Description, e.Status, e.Kind, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExperimentNotFound
	}
	e.UpdatedAt = now
	return nil
}

func (s *PostgresStore) DeleteExperiment(ctx context.Context, id string) error {
	tag, err := s.q().Exec(ctx, `DELETE FROM experiments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExperimentNotFound
	}
	return nil
}

func (s *PostgresStore) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*Experiment, error) {
	sql := `SELECT ` + experimentCols + ` FROM experiments WHERE ($1='' OR project_id=$1) AND ($2='' OR status=$2) ORDER BY id`
	rows, err := s.q().Query(ctx, sql, filter.ProjectID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	defer rows.Close()
	var out []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- Variants ---

func (s *PostgresStore) CreateVariant(ctx context.Context, v *Variant) error {
	return createVariant(ctx, s.q(), v)
}

func createVariant(ctx context.Context, q querier, v *Variant) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	payload, err := marshalJSON(v.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal variant payload: %w", err)
	}
	now := time.Now().UTC()
	_, err = q.Exec(ctx, `
		INSERT INTO variants (id, experiment_id, key, payload, rollout, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)`,
		v.ID, v.ExperimentID, v.Key, payload, v.Rollout, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create variant: %w", err)
	}
	v.CreatedAt, v.UpdatedAt = now, now
	return nil
}

func scanVariant(row pgx.Row) (*Variant, error) {
	var v Variant
	var payload []byte
	if err := row.Scan(&v.ID, &v.ExperimentID, &v.Key, &payload, &v.Rollout, &v.CreatedAt, &v.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan variant: %w", err)
	}
	v.Payload = unmarshalJSON(payload)
	return &v, nil
}

const variantCols = `id, experiment_id, key, payload, rollout, created_at, updated_at`

func (s *PostgresStore) GetVariant(ctx context.Context, id string) (*Variant, error) {
	row := s.q().QueryRow(ctx, `SELECT `+variantCols+` FROM variants WHERE id=$1`, id)
	return scanVariant(row)
}

func (s *PostgresStore) ListVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	return listVariants(ctx, s.q(), experimentID)
}

func listVariants(ctx context.Context, q querier, experimentID string) ([]*Variant, error) {
	rows, err := q.Query(ctx, `SELECT `+variantCols+` FROM variants WHERE experiment_id=$1 ORDER BY id`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("store: list variants: %w", err)
	}
	defer rows.Close()
	var out []*Variant
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateVariant(ctx context.Context, v *Variant) error {
	return updateVariant(ctx, s.q(), v)
}

func updateVariant(ctx context.Context, q querier, v *Variant) error {
	payload, err := marshalJSON(v.Payload)
	if err != nil {
		return fmt.Errorf("store: marshal variant payload: %w", err)
	}
	now := time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE variants SET key=$2, payload=$3, rollout=$4, updated_at=$5 WHERE id=$1`,
		v.ID, v.Key, payload, v.Rollout, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: update variant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	v.UpdatedAt = now
	return nil
}

func (s *PostgresStore) DeleteVariant(ctx context.Context, id string) error {
	return deleteVariant(ctx, s.q(), id)
}

func deleteVariant(ctx context.Context, q querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM variants WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete variant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ReplaceVariants(ctx context.Context, experimentID string, variants []*Variant) error {
	return s.WithTx(ctx, func(tx Tx) error {
		return tx.ReplaceVariants(ctx, experimentID, variants)
	})
}

// --- Users ---

func (s *PostgresStore) FindUsers(ctx context.Context, projectID string, ids IdentifierSet) ([]*User, error) {
	return findUsers(ctx, s.q(), projectID, ids)
}

func findUsers(ctx context.Context, q querier, projectID string, ids IdentifierSet) ([]*User, error) {
	if ids.Empty() {
		return nil, ErrNoIdentifier
	}
	rows, err := q.Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE project_id=$1 AND (
			($2 <> '' AND id=$2) OR
			($3 <> '' AND device_id=$3) OR
			($4 <> '' AND email=$4) OR
			($5 <> '' AND external_id=$5)
		)
		ORDER BY first_seen ASC, id ASC`,
		projectID, ids.ID, ids.DeviceID, ids.Email, ids.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("store: find users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

const userCols = `id, project_id, device_id, email, external_id, url, os, os_version, device_type, properties, first_seen, last_seen`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var deviceID, email, externalID, url, os, osVersion, deviceType *string
	var properties []byte
	if err := row.Scan(&u.ID, &u.ProjectID, &deviceID, &email, &externalID, &url, &os, &osVersion, &deviceType, &properties, &u.FirstSeen, &u.LastSeen); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan user: %w", err)
	}
	u.DeviceID, u.Email, u.ExternalID = deviceID, email, externalID
	if url != nil {
		u.Metadata.URL = *url
	}
	if os != nil {
		u.Metadata.OS = *os
	}
	if osVersion != nil {
		u.Metadata.OSVersion = *osVersion
	}
	if deviceType != nil {
		u.Metadata.DeviceType = *deviceType
	}
	u.Properties = unmarshalJSON(properties)
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	return createUser(ctx, s.q(), u)
}

func createUser(ctx context.Context, q querier, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if u.FirstSeen.IsZero() {
		u.FirstSeen = now
	}
	u.LastSeen = now
	properties, err := marshalJSON(u.Properties)
	if err != nil {
		return fmt.Errorf("store: marshal user properties: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO users (id, project_id, device_id, email, external_id, url, os, os_version, device_type, properties, first_seen, last_seen)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.ID, u.ProjectID, nullableString(u.DeviceID), nullableString(u.Email), nullableString(u.ExternalID),
		nullableString(&u.Metadata.URL), nullableString(&u.Metadata.OS), nullableString(&u.Metadata.OSVersion), nullableString(&u.Metadata.DeviceType),
		properties, u.FirstSeen, u.LastSeen)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create user: %w", err)
	}
	if u.Properties == nil {
		u.Properties = map[string]any{}
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*User, error) {
	row := s.q().QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id)
	return scanUser(row)
}

func (s *PostgresStore) UpdateUser(ctx context.Context, u *User) error {
	return updateUser(ctx, s.q(), u)
}

func updateUser(ctx context.Context, q querier, u *User) error {
	properties, err := marshalJSON(u.Properties)
	if err != nil {
		return fmt.Errorf("store: marshal user properties: %w", err)
	}
	u.LastSeen = time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE users SET device_id=$2, email=$3, external_id=$4, url=$5, os=$6, os_version=$7, device_type=$8, properties=$9, last_seen=$10
		WHERE id=$1`,
		u.ID, nullableString(u.DeviceID), nullableString(u.Email), nullableString(u.ExternalID),
		nullableString(&u.Metadata.URL), nullableString(&u.Metadata.OS), nullableString(&u.Metadata.OSVersion), nullableString(&u.Metadata.DeviceType),
		properties, u.LastSeen)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, id string) error {
	return deleteUser(ctx, s.q(), id)
}

func deleteUser(ctx context.Context, q querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	rows, err := s.q().Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE ($1='' OR project_id=$1) AND ($2='' OR device_id=$2) AND ($3='' OR email=$3) AND ($4='' OR external_id=$4)
		ORDER BY id`,
		filter.ProjectID, filter.DeviceID, filter.Email, filter.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// --- Distributions ---

const distributionCols = `id, user_id, experiment_id, variant_id, created_at, updated_at`

func scanDistribution(row pgx.Row) (*Distribution, error) {
	var d Distribution
	if err := row.Scan(&d.ID, &d.UserID, &d.ExperimentID, &d.VariantID, &d.CreatedAt, &d.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan distribution: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) GetDistribution(ctx context.Context, userID, experimentID string) (*Distribution, error) {
	return getDistribution(ctx, s.q(), userID, experimentID)
}

func getDistribution(ctx context.Context, q querier, userID, experimentID string) (*Distribution, error) {
	row := q.QueryRow(ctx, `SELECT `+distributionCols+` FROM distributions WHERE user_id=$1 AND experiment_id=$2`, userID, experimentID)
	return scanDistribution(row)
}

func (s *PostgresStore) CreateDistribution(ctx context.Context, d *Distribution) error {
	return createDistribution(ctx, s.q(), d)
}

func createDistribution(ctx context.Context, q querier, d *Distribution) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO distributions (id, user_id, experiment_id, variant_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$5)`,
		d.ID, d.UserID, d.ExperimentID, d.VariantID, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create distribution: %w", err)
	}
	d.CreatedAt, d.UpdatedAt = now, now
	return nil
}

func (s *PostgresStore) UpdateDistributionVariant(ctx context.Context, id, variantID string) error {
	return updateDistributionVariant(ctx, s.q(), id, variantID)
}

func updateDistributionVariant(ctx context.Context, q querier, id, variantID string) error {
	tag, err := q.Exec(ctx, `UPDATE distributions SET variant_id=$2, updated_at=$3 WHERE id=$1`, id, variantID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: update distribution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListDistributions(ctx context.Context, filter DistributionFilter) ([]*Distribution, error) {
	return listDistributions(ctx, s.q(), filter)
}

func listDistributions(ctx context.Context, q querier, filter DistributionFilter) ([]*Distribution, error) {
	rows, err := q.Query(ctx, `
		SELECT `+distributionCols+` FROM distributions
		WHERE ($1='' OR experiment_id=$1) AND ($2='' OR user_id=$2) AND ($3='' OR variant_id=$3)
		ORDER BY id`,
		filter.ExperimentID, filter.UserID, filter.VariantID)
	if err != nil {
		return nil, fmt.Errorf("store: list distributions: %w", err)
	}
	defer rows.Close()
	var out []*Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteDistributionsByUser(ctx context.Context, userID string) error {
	return deleteDistributionsByUser(ctx, s.q(), userID)
}

func deleteDistributionsByUser(ctx context.Context, q querier, userID string) error {
	_, err := q.Exec(ctx, `DELETE FROM distributions WHERE user_id=$1`, userID)
	if err != nil {
		return fmt.Errorf("store: delete distributions by user: %w", err)
	}
	return nil
}

// --- Admin users ---

func (s *PostgresStore) CreateAdminUser(ctx context.Context, a *AdminUser) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := s.q().Exec(ctx, `
		INSERT INTO admin_users (id, email, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5)`, a.ID, a.Email, a.PasswordHash, a.Role, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create admin user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	var a AdminUser
	err := s.q().QueryRow(ctx, `SELECT id, email, password_hash, role, created_at FROM admin_users WHERE email=$1`, email).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get admin user: %w", err)
	}
	return &a, nil
}

// --- Webhooks & audit log ---

const webhookCols = `id, project_id, url, secret, events, active, max_retries, timeout_seconds, last_triggered_at, created_at, updated_at`

func scanWebhook(row pgx.Row) (*Webhook, error) {
	var wh Webhook
	if err := row.Scan(&wh.ID, &wh.ProjectID, &wh.URL, &wh.Secret, &wh.Events, &wh.Active,
		&wh.MaxRetries, &wh.TimeoutSeconds, &wh.LastTriggeredAt, &wh.CreatedAt, &wh.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan webhook: %w", err)
	}
	return &wh, nil
}

func createWebhook(ctx context.Context, q querier, wh *Webhook) error {
	if wh.ID == "" {
		wh.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO webhooks (id, project_id, url, secret, events, active, max_retries, timeout_seconds, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)`,
		wh.ID, wh.ProjectID, wh.URL, wh.Secret, wh.Events, wh.Active, wh.MaxRetries, wh.TimeoutSeconds, now)
	if err != nil {
		return fmt.Errorf("store: create webhook: %w", err)
	}
	wh.CreatedAt, wh.UpdatedAt = now, now
	return nil
}

func getWebhook(ctx context.Context, q querier, id string) (*Webhook, error) {
	return scanWebhook(q.QueryRow(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE id=$1`, id))
}

func listWebhooks(ctx context.Context, q querier, projectID string) ([]*Webhook, error) {
	rows, err := q.Query(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("store: list webhooks: %w", err)
	}
	defer rows.Close()
	var out []*Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func listActiveWebhooks(ctx context.Context, q querier) ([]*Webhook, error) {
	rows, err := q.Query(ctx, `SELECT `+webhookCols+` FROM webhooks WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("store: list active webhooks: %w", err)
	}
	defer rows.Close()
	var out []*Webhook
	for rows.Next() {
		wh, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func updateWebhook(ctx context.Context, q querier, wh *Webhook) error {
	now := time.Now().UTC()
	tag, err := q.Exec(ctx, `
		UPDATE webhooks SET url=$2, events=$3, active=$4, max_retries=$5, timeout_seconds=$6, updated_at=$7
		WHERE id=$1`, wh.ID, wh.URL, wh.Events, wh.Active, wh.MaxRetries, wh.TimeoutSeconds, now)
	if err != nil {
		return fmt.Errorf("store: update webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	wh.UpdatedAt = now
	return nil
}

func deleteWebhook(ctx context.Context, q querier, id string) error {
	tag, err := q.Exec(ctx, `DELETE FROM webhooks WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func touchWebhookTriggered(ctx context.Context, q querier, id string, at time.Time) error {
	tag, err := q.Exec(ctx, `UPDATE webhooks SET last_triggered_at=$2, updated_at=$2 WHERE id=$1`, id, at)
	if err != nil {
		return fmt.Errorf("store: touch webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func createWebhookDelivery(ctx context.Context, q querier, d *WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := q.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_type, payload, status_code, response_body, error_message, duration_ms, success, retry_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, d.WebhookID, d.EventType, d.Payload, nullableInt(d.StatusCode), nullableText(d.ResponseBody),
		nullableText(d.ErrorMessage), nullableInt(d.DurationMs), d.Success, d.RetryCount, now)
	if err != nil {
		return fmt.Errorf("store: create webhook delivery: %w", err)
	}
	d.CreatedAt = now
	return nil
}

func listWebhookDeliveries(ctx context.Context, q querier, webhookID string, limit int) ([]*WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.Query(ctx, `
		SELECT id, webhook_id, event_type, payload, status_code, response_body, error_message, duration_ms, success, retry_count, created_at
		FROM webhook_deliveries WHERE webhook_id=$1 ORDER BY created_at DESC LIMIT $2`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list webhook deliveries: %w", err)
	}
	defer rows.Close()
	var out []*WebhookDelivery
	for rows.Next() {
		var d WebhookDelivery
		var statusCode, durationMs *int
		var responseBody, errorMessage *string
		if err := rows.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &statusCode, &responseBody,
			&errorMessage, &durationMs, &d.Success, &d.RetryCount, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan webhook delivery: %w", err)
		}
		if statusCode != nil {
			d.StatusCode = *statusCode
		}
		if responseBody != nil {
			d.ResponseBody = *responseBody
		}
		if errorMessage != nil {
			d.ErrorMessage = *errorMessage
		}
		if durationMs != nil {
			d.DurationMs = *durationMs
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

func nullableInt(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func nullableText(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func createAuditEntry(ctx context.Context, q querier, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	before, err := marshalJSON(e.BeforeState)
	if err != nil {
		return fmt.Errorf("store: marshal audit before_state: %w", err)
	}
	after, err := marshalJSON(e.AfterState)
	if err != nil {
		return fmt.Errorf("store: marshal audit after_state: %w", err)
	}
	changes, err := marshalJSON(e.Changes)
	if err != nil {
		return fmt.Errorf("store: marshal audit changes: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_log (id, project_id, actor_kind, actor_id, action, resource_type, resource_id, status, before_state, after_state, changes, request_id, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		e.ID, nullableText(e.ProjectID), e.ActorKind, e.ActorID, e.Action, e.ResourceType, e.ResourceID,
		e.Status, before, after, changes, e.RequestID, e.IPAddress, e.UserAgent, now)
	if err != nil {
		return fmt.Errorf("store: create audit entry: %w", err)
	}
	e.CreatedAt = now
	return nil
}

func listAuditEntries(ctx context.Context, q querier, filter AuditFilter) ([]*AuditEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Query(ctx, `
		SELECT id, COALESCE(project_id::text, ''), actor_kind, actor_id, action, resource_type, resource_id, status,
		       before_state, after_state, changes, request_id, ip_address, user_agent, created_at
		FROM audit_log
		WHERE ($1 = '' OR project_id::text = $1) AND ($2 = '' OR resource_type = $2)
		ORDER BY created_at DESC LIMIT $3`, filter.ProjectID, filter.ResourceType, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit entries: %w", err)
	}
	defer rows.Close()
	var out []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var before, after, changes []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.ActorKind, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Status, &before, &after, &changes, &e.RequestID, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit entry: %w", err)
		}
		e.BeforeState = unmarshalJSON(before)
		e.AfterState = unmarshalJSON(after)
		e.Changes = unmarshalJSON(changes)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateWebhook(ctx context.Context, wh *Webhook) error { return createWebhook(ctx, s.q(), wh) }
func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	return getWebhook(ctx, s.q(), id)
}
func (s *PostgresStore) ListWebhooks(ctx context.Context, projectID string) ([]*Webhook, error) {
	return listWebhooks(ctx, s.q(), projectID)
}
func (s *PostgresStore) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	return listActiveWebhooks(ctx, s.q())
}
func (s *PostgresStore) UpdateWebhook(ctx context.Context, wh *Webhook) error { return updateWebhook(ctx, s.q(), wh) }
func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) error  { return deleteWebhook(ctx, s.q(), id) }
func (s *PostgresStore) TouchWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	return touchWebhookTriggered(ctx, s.q(), id, at)
}
func (s *PostgresStore) CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	return createWebhookDelivery(ctx, s.q(), d)
}
func (s *PostgresStore) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error) {
	return listWebhookDeliveries(ctx, s.q(), webhookID, limit)
}
func (s *PostgresStore) CreateAuditEntry(ctx context.Context, e *AuditEntry) error {
	return createAuditEntry(ctx, s.q(), e)
}
func (s *PostgresStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return listAuditEntries(ctx, s.q(), filter)
}

// --- Transactions ---

// pgTx adapts a pgx.Tx to the Store interface (every query method above
// accepts the querier interface that pgx.Tx also satisfies) and records
// AfterCommit hooks, run by WithTx once Commit succeeds.
type pgTx struct {
	tx    pgx.Tx
	hooks []func()
}

func (t *pgTx) q() querier { return t.tx }

func (t *pgTx) AfterCommit(fn func()) { t.hooks = append(t.hooks, fn) }

func (t *pgTx) Close() error { return nil }

func (t *pgTx) WithTx(ctx context.Context, fn func(Tx) error) error { return fn(t) }

func (t *pgTx) CreateProject(ctx context.Context, p *Project) error { return createProject(ctx, t.q(), p) }
func (t *pgTx) GetProject(ctx context.Context, id string) (*Project, error) {
	return scanProject(t.q().QueryRow(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects WHERE id=$1`, id))
}
func (t *pgTx) GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	return scanProject(t.q().QueryRow(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects WHERE api_key=$1`, apiKey))
}
func (t *pgTx) UpdateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	tag, err := t.q().Exec(ctx, `UPDATE projects SET owner=$2, api_key=$3, title=$4, description=$5, updated_at=$6 WHERE id=$1`,
		p.ID, p.Owner, p.APIKey, p.Title, p.Description, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: update project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	p.UpdatedAt = now
	return nil
}
func (t *pgTx) DeleteProject(ctx context.Context, id string) error {
	tag, err := t.q().Exec(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProjectNotFound
	}
	return nil
}
func (t *pgTx) ListProjects(ctx context.Context, owner string) ([]*Project, error) {
	rows, err := t.q().Query(ctx, `SELECT id, owner, api_key, title, description, created_at, updated_at FROM projects WHERE ($1='' OR owner=$1) ORDER BY id`, owner)
	if err != nil {
		return nil, fmt.Errorf("store: list projects: %w", err)
	}
	defer rows.Close()
	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateExperiment(ctx context.Context, e *Experiment) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	_, err := t.q().Exec(ctx, `
		INSERT INTO experiments (id, project_id, key, name, description, status, kind, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)`, e.ID, e.ProjectID, e.Key, e.Name, e.Description, e.Status, e.Kind, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create experiment: %w", err)
	}
	e.CreatedAt, e.UpdatedAt = now, now
	return nil
}
func (t *pgTx) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	return scanExperiment(t.q().QueryRow(ctx, `SELECT `+experimentCols+` FROM experiments WHERE id=$1`, id))
}
func (t *pgTx) GetExperimentByKey(ctx context.Context, projectID, key string) (*Experiment, error) {
	return scanExperiment(t.q().QueryRow(ctx, `SELECT `+experimentCols+` FROM experiments WHERE project_id=$1 AND key=$2`, projectID, key))
}
func (t *pgTx) UpdateExperiment(ctx context.Context, e *Experiment) error {
	now := time.Now().UTC()
	tag, err := t.q().Exec(ctx, `UPDATE experiments SET key=$2, name=$3, description=$4, status=$5, kind=$6, updated_at=$7 WHERE id=$1`,
		e.ID, e.Key, e.Name, e.Description, e.Status, e.Kind, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExperimentNotFound
	}
	e.UpdatedAt = now
	return nil
}
func (t *pgTx) DeleteExperiment(ctx context.Context, id string) error {
	tag, err := t.q().Exec(ctx, `DELETE FROM experiments WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("store: delete experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrExperimentNotFound
	}
	return nil
}
func (t *pgTx) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*Experiment, error) {
	rows, err := t.q().Query(ctx, `SELECT `+experimentCols+` FROM experiments WHERE ($1='' OR project_id=$1) AND ($2='' OR status=$2) ORDER BY id`,
		filter.ProjectID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	defer rows.Close()
	var out []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) CreateVariant(ctx context.Context, v *Variant) error { return createVariant(ctx, t.q(), v) }
func (t *pgTx) GetVariant(ctx context.Context, id string) (*Variant, error) {
	return scanVariant(t.q().QueryRow(ctx, `SELECT `+variantCols+` FROM variants WHERE id=$1`, id))
}
func (t *pgTx) ListVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	return listVariants(ctx, t.q(), experimentID)
}
func (t *pgTx) UpdateVariant(ctx context.Context, v *Variant) error { return updateVariant(ctx, t.q(), v) }
func (t *pgTx) DeleteVariant(ctx context.Context, id string) error { return deleteVariant(ctx, t.q(), id) }
func (t *pgTx) ReplaceVariants(ctx context.Context, experimentID string, variants []*Variant) error {
	if _, err := t.q().Exec(ctx, `DELETE FROM variants WHERE experiment_id=$1`, experimentID); err != nil {
		return fmt.Errorf("store: replace variants (delete): %w", err)
	}
	for _, v := range variants {
		v.ExperimentID = experimentID
		if err := createVariant(ctx, t.q(), v); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) FindUsers(ctx context.Context, projectID string, ids IdentifierSet) ([]*User, error) {
	return findUsers(ctx, t.q(), projectID, ids)
}
func (t *pgTx) CreateUser(ctx context.Context, u *User) error { return createUser(ctx, t.q(), u) }
func (t *pgTx) GetUser(ctx context.Context, id string) (*User, error) {
	return scanUser(t.q().QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1`, id))
}
func (t *pgTx) UpdateUser(ctx context.Context, u *User) error { return updateUser(ctx, t.q(), u) }
func (t *pgTx) DeleteUser(ctx context.Context, id string) error { return deleteUser(ctx, t.q(), id) }
func (t *pgTx) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	rows, err := t.q().Query(ctx, `
		SELECT `+userCols+` FROM users
		WHERE ($1='' OR project_id=$1) AND ($2='' OR device_id=$2) AND ($3='' OR email=$3) AND ($4='' OR external_id=$4)
		ORDER BY id`, filter.ProjectID, filter.DeviceID, filter.Email, filter.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("store: list users: %w", err)
	}
	defer rows.Close()
	var out []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (t *pgTx) GetDistribution(ctx context.Context, userID, experimentID string) (*Distribution, error) {
	return getDistribution(ctx, t.q(), userID, experimentID)
}
func (t *pgTx) CreateDistribution(ctx context.Context, d *Distribution) error {
	return createDistribution(ctx, t.q(), d)
}
func (t *pgTx) UpdateDistributionVariant(ctx context.Context, id, variantID string) error {
	return updateDistributionVariant(ctx, t.q(), id, variantID)
}
func (t *pgTx) ListDistributions(ctx context.Context, filter DistributionFilter) ([]*Distribution, error) {
	return listDistributions(ctx, t.q(), filter)
}
func (t *pgTx) DeleteDistributionsByUser(ctx context.Context, userID string) error {
	return deleteDistributionsByUser(ctx, t.q(), userID)
}

func (t *pgTx) CreateAdminUser(ctx context.Context, a *AdminUser) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	_, err := t.q().Exec(ctx, `INSERT INTO admin_users (id, email, password_hash, role, created_at) VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.Email, a.PasswordHash, a.Role, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUniqueViolation
		}
		return fmt.Errorf("store: create admin user: %w", err)
	}
	return nil
}
func (t *pgTx) GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	var a AdminUser
	err := t.q().QueryRow(ctx, `SELECT id, email, password_hash, role, created_at FROM admin_users WHERE email=$1`, email).
		Scan(&a.ID, &a.Email, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get admin user: %w", err)
	}
	return &a, nil
}

func (t *pgTx) CreateWebhook(ctx context.Context, wh *Webhook) error { return createWebhook(ctx, t.q(), wh) }
func (t *pgTx) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	return getWebhook(ctx, t.q(), id)
}
func (t *pgTx) ListWebhooks(ctx context.Context, projectID string) ([]*Webhook, error) {
	return listWebhooks(ctx, t.q(), projectID)
}
func (t *pgTx) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	return listActiveWebhooks(ctx, t.q())
}
func (t *pgTx) UpdateWebhook(ctx context.Context, wh *Webhook) error { return updateWebhook(ctx, t.q(), wh) }
func (t *pgTx) DeleteWebhook(ctx context.Context, id string) error  { return deleteWebhook(ctx, t.q(), id) }
func (t *pgTx) TouchWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	return touchWebhookTriggered(ctx, t.q(), id, at)
}
func (t *pgTx) CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	return createWebhookDelivery(ctx, t.q(), d)
}
func (t *pgTx) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error) {
	return listWebhookDeliveries(ctx, t.q(), webhookID, limit)
}
func (t *pgTx) CreateAuditEntry(ctx context.Context, e *AuditEntry) error {
	return createAuditEntry(ctx, t.q(), e)
}
func (t *pgTx) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return listAuditEntries(ctx, t.q(), filter)
}

// WithTx begins a pgx transaction, runs fn against a *pgTx, commits on a
// nil return and then fires every AfterCommit hook, or rolls back on
// error or panic. Change events ride these hooks, so a rolled-back write
// never produces an event.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	pgt := &pgTx{tx: tx}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()
	if err := fn(pgt); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	for _, h := range pgt.hooks {
		h()
	}
	return nil
}
