package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a process-local Store backed by maps under one mutex,
// intended for tests and local development. The mutex is taken once per
// call outside a transaction, or once for the whole transaction by WithTx;
// the methods on the embedded core type never lock, so both entry points share
// one implementation.
type MemoryStore struct {
	mu sync.Mutex
	core
}

type core struct {
	projects          map[string]*Project
	experiments       map[string]*Experiment
	variants          map[string]*Variant
	users             map[string]*User
	distributions     map[string]*Distribution
	adminUsers        map[string]*AdminUser
	webhooks          map[string]*Webhook
	webhookDeliveries map[string]*WebhookDelivery
	auditEntries      map[string]*AuditEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		core: core{
			projects:          make(map[string]*Project),
			experiments:       make(map[string]*Experiment),
			variants:          make(map[string]*Variant),
			users:             make(map[string]*User),
			distributions:     make(map[string]*Distribution),
			adminUsers:        make(map[string]*AdminUser),
			webhooks:          make(map[string]*Webhook),
			webhookDeliveries: make(map[string]*WebhookDelivery),
			auditEntries:      make(map[string]*AuditEntry),
		},
	}
}

func (m *MemoryStore) Close() error { return nil }

// memoryTx is the Tx handed to WithTx callbacks; it shares the parent's
// core maps directly (the lock is already held for the duration of the
// transaction) and accumulates AfterCommit callbacks to run once fn
// returns nil.
type memoryTx struct {
	*core
	hooks []func()
}

func (t *memoryTx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *memoryTx) Close() error { return nil }

func (m *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{core: &m.core}
	if err := fn(tx); err != nil {
		return err
	}
	for _, h := range tx.hooks {
		h()
	}
	return nil
}

// MemoryStore's exported methods lock then delegate to core; memoryTx's
// delegate straight to core since the caller already holds the lock.

func (m *MemoryStore) CreateProject(ctx context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateProject(ctx, p)
}
func (t *memoryTx) CreateProject(ctx context.Context, p *Project) error {
	return t.core.CreateProject(ctx, p)
}
func (c *core) CreateProject(ctx context.Context, p *Project) error {
	now := time.Now().UTC()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	c.projects[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetProject(ctx context.Context, id string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetProject(ctx, id)
}
func (t *memoryTx) GetProject(ctx context.Context, id string) (*Project, error) {
	return t.core.GetProject(ctx, id)
}
func (c *core) GetProject(ctx context.Context, id string) (*Project, error) {
	p, ok := c.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetProjectByAPIKey(ctx, apiKey)
}
func (t *memoryTx) GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	return t.core.GetProjectByAPIKey(ctx, apiKey)
}
func (c *core) GetProjectByAPIKey(ctx context.Context, apiKey string) (*Project, error) {
	for _, p := range c.projects {
		if p.APIKey == apiKey {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProjectNotFound
}

func (m *MemoryStore) UpdateProject(ctx context.Context, p *Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.UpdateProject(ctx, p)
}
func (t *memoryTx) UpdateProject(ctx context.Context, p *Project) error {
	return t.core.UpdateProject(ctx, p)
}
func (c *core) UpdateProject(ctx context.Context, p *Project) error {
	existing, ok := c.projects[p.ID]
	if !ok {
		return ErrProjectNotFound
	}
	cp := *p
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	c.projects[p.ID] = &cp
	*p = cp
	return nil
}

func (m *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.DeleteProject(ctx, id)
}
func (t *memoryTx) DeleteProject(ctx context.Context, id string) error {
	return t.core.DeleteProject(ctx, id)
}
func (c *core) DeleteProject(ctx context.Context, id string) error {
	if _, ok := c.projects[id]; !ok {
		return ErrProjectNotFound
	}
	delete(c.projects, id)
	for eid, e := range c.experiments {
		if e.ProjectID != id {
			continue
		}
		for vid, v := range c.variants {
			if v.ExperimentID == eid {
				delete(c.variants, vid)
			}
		}
		delete(c.experiments, eid)
	}
	for uid, u := range c.users {
		if u.ProjectID != id {
			continue
		}
		for did, d := range c.distributions {
			if d.UserID == uid {
				delete(c.distributions, did)
			}
		}
		delete(c.users, uid)
	}
	return nil
}

func (m *MemoryStore) ListProjects(ctx context.Context, owner string) ([]*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListProjects(ctx, owner)
}
func (t *memoryTx) ListProjects(ctx context.Context, owner string) ([]*Project, error) {
	return t.core.ListProjects(ctx, owner)
}
func (c *core) ListProjects(ctx context.Context, owner string) ([]*Project, error) {
	var out []*Project
	for _, p := range c.projects {
		if owner == "" || p.Owner == owner {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateExperiment(ctx context.Context, e *Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateExperiment(ctx, e)
}
func (t *memoryTx) CreateExperiment(ctx context.Context, e *Experiment) error {
	return t.core.CreateExperiment(ctx, e)
}
func (c *core) CreateExperiment(ctx context.Context, e *Experiment) error {
	now := time.Now().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	c.experiments[e.ID] = &cp
	return nil
}

func (m *MemoryStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetExperiment(ctx, id)
}
func (t *memoryTx) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	return t.core.GetExperiment(ctx, id)
}
func (c *core) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	e, ok := c.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *MemoryStore) GetExperimentByKey(ctx context.Context, projectID, key string) (*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetExperimentByKey(ctx, projectID, key)
}
func (t *memoryTx) GetExperimentByKey(ctx context.Context, projectID, key string) (*Experiment, error) {
	return t.core.GetExperimentByKey(ctx, projectID, key)
}
func (c *core) GetExperimentByKey(ctx context.Context, projectID, key string) (*Experiment, error) {
	for _, e := range c.experiments {
		if e.ProjectID == projectID && e.Key == key {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrExperimentNotFound
}

func (m *MemoryStore) UpdateExperiment(ctx context.Context, e *Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.UpdateExperiment(ctx, e)
}
func (t *memoryTx) UpdateExperiment(ctx context.Context, e *Experiment) error {
	return t.core.UpdateExperiment(ctx, e)
}
func (c *core) UpdateExperiment(ctx context.Context, e *Experiment) error {
	existing, ok := c.experiments[e.ID]
	if !ok {
		return ErrExperimentNotFound
	}
	cp := *e
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	c.experiments[e.ID] = &cp
	*e = cp
	return nil
}

func (m *MemoryStore) DeleteExperiment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.DeleteExperiment(ctx, id)
}
func (t *memoryTx) DeleteExperiment(ctx context.Context, id string) error {
	return t.core.DeleteExperiment(ctx, id)
}
func (c *core) DeleteExperiment(ctx context.Context, id string) error {
	if _, ok := c.experiments[id]; !ok {
		return ErrExperimentNotFound
	}
	delete(c.experiments, id)
	for vid, v := range c.variants {
		if v.ExperimentID == id {
			delete(c.variants, vid)
		}
	}
	for did, d := range c.distributions {
		if d.ExperimentID == id {
			delete(c.distributions, did)
		}
	}
	return nil
}

func (m *MemoryStore) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListExperiments(ctx, filter)
}
func (t *memoryTx) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*Experiment, error) {
	return t.core.ListExperiments(ctx, filter)
}
func (c *core) ListExperiments(ctx context.Context, filter ExperimentFilter) ([]*Experiment, error) {
	var out []*Experiment
	for _, e := range c.experiments {
		if filter.ProjectID != "" && e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateVariant(ctx context.Context, v *Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateVariant(ctx, v)
}
func (t *memoryTx) CreateVariant(ctx context.Context, v *Variant) error {
	return t.core.CreateVariant(ctx, v)
}
func (c *core) CreateVariant(ctx context.Context, v *Variant) error {
	now := time.Now().UTC()
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	v.CreatedAt, v.UpdatedAt = now, now
	cp := *v
	c.variants[v.ID] = &cp
	return nil
}

func (m *MemoryStore) GetVariant(ctx context.Context, id string) (*Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetVariant(ctx, id)
}
func (t *memoryTx) GetVariant(ctx context.Context, id string) (*Variant, error) {
	return t.core.GetVariant(ctx, id)
}
func (c *core) GetVariant(ctx context.Context, id string) (*Variant, error) {
	v, ok := c.variants[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *MemoryStore) ListVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListVariants(ctx, experimentID)
}
func (t *memoryTx) ListVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	return t.core.ListVariants(ctx, experimentID)
}
func (c *core) ListVariants(ctx context.Context, experimentID string) ([]*Variant, error) {
	var out []*Variant
	for _, v := range c.variants {
		if v.ExperimentID == experimentID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateVariant(ctx context.Context, v *Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.UpdateVariant(ctx, v)
}
func (t *memoryTx) UpdateVariant(ctx context.Context, v *Variant) error {
	return t.core.UpdateVariant(ctx, v)
}
func (c *core) UpdateVariant(ctx context.Context, v *Variant) error {
	existing, ok := c.variants[v.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *v
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = time.Now().UTC()
	c.variants[v.ID] = &cp
	*v = cp
	return nil
}

func (m *MemoryStore) DeleteVariant(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.DeleteVariant(ctx, id)
}
func (t *memoryTx) DeleteVariant(ctx context.Context, id string) error {
	return t.core.DeleteVariant(ctx, id)
}
func (c *core) DeleteVariant(ctx context.Context, id string) error {
	if _, ok := c.variants[id]; !ok {
		return ErrNotFound
	}
	delete(c.variants, id)
	return nil
}

func (m *MemoryStore) ReplaceVariants(ctx context.Context, experimentID string, variants []*Variant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ReplaceVariants(ctx, experimentID, variants)
}
func (t *memoryTx) ReplaceVariants(ctx context.Context, experimentID string, variants []*Variant) error {
	return t.core.ReplaceVariants(ctx, experimentID, variants)
}
func (c *core) ReplaceVariants(ctx context.Context, experimentID string, variants []*Variant) error {
	for vid, v := range c.variants {
		if v.ExperimentID == experimentID {
			delete(c.variants, vid)
		}
	}
	now := time.Now().UTC()
	for _, v := range variants {
		if v.ID == "" {
			v.ID = uuid.NewString()
		}
		v.ExperimentID = experimentID
		v.CreatedAt, v.UpdatedAt = now, now
		cp := *v
		c.variants[v.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) FindUsers(ctx context.Context, projectID string, ids IdentifierSet) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.FindUsers(ctx, projectID, ids)
}
func (t *memoryTx) FindUsers(ctx context.Context, projectID string, ids IdentifierSet) ([]*User, error) {
	return t.core.FindUsers(ctx, projectID, ids)
}
func (c *core) FindUsers(ctx context.Context, projectID string, ids IdentifierSet) ([]*User, error) {
	if ids.Empty() {
		return nil, ErrNoIdentifier
	}
	var out []*User
	for _, u := range c.users {
		if u.ProjectID != projectID {
			continue
		}
		if matchesIdentifierSet(u, ids) {
			cp := *u
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FirstSeen.Equal(out[j].FirstSeen) {
			return out[i].ID < out[j].ID
		}
		return out[i].FirstSeen.Before(out[j].FirstSeen)
	})
	return out, nil
}

func matchesIdentifierSet(u *User, ids IdentifierSet) bool {
	if ids.ID != "" && u.ID == ids.ID {
		return true
	}
	if ids.DeviceID != "" && u.DeviceID != nil && *u.DeviceID == ids.DeviceID {
		return true
	}
	if ids.Email != "" && u.Email != nil && *u.Email == ids.Email {
		return true
	}
	if ids.ExternalID != "" && u.ExternalID != nil && *u.ExternalID == ids.ExternalID {
		return true
	}
	return false
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateUser(ctx, u)
}
func (t *memoryTx) CreateUser(ctx context.Context, u *User) error {
	return t.core.CreateUser(ctx, u)
}
func (c *core) CreateUser(ctx context.Context, u *User) error {
	now := time.Now().UTC()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.FirstSeen.IsZero() {
		u.FirstSeen = now
	}
	u.LastSeen = now
	if u.Properties == nil {
		u.Properties = map[string]any{}
	}
	cp := *u
	c.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetUser(ctx, id)
}
func (t *memoryTx) GetUser(ctx context.Context, id string) (*User, error) {
	return t.core.GetUser(ctx, id)
}
func (c *core) GetUser(ctx context.Context, id string) (*User, error) {
	u, ok := c.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.UpdateUser(ctx, u)
}
func (t *memoryTx) UpdateUser(ctx context.Context, u *User) error {
	return t.core.UpdateUser(ctx, u)
}
func (c *core) UpdateUser(ctx context.Context, u *User) error {
	existing, ok := c.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *u
	cp.FirstSeen = existing.FirstSeen
	cp.LastSeen = time.Now().UTC()
	c.users[u.ID] = &cp
	*u = cp
	return nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.DeleteUser(ctx, id)
}
func (t *memoryTx) DeleteUser(ctx context.Context, id string) error {
	return t.core.DeleteUser(ctx, id)
}
func (c *core) DeleteUser(ctx context.Context, id string) error {
	if _, ok := c.users[id]; !ok {
		return ErrNotFound
	}
	delete(c.users, id)
	return nil
}

func (m *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListUsers(ctx, filter)
}
func (t *memoryTx) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	return t.core.ListUsers(ctx, filter)
}
func (c *core) ListUsers(ctx context.Context, filter UserFilter) ([]*User, error) {
	var out []*User
	for _, u := range c.users {
		if filter.ProjectID != "" && u.ProjectID != filter.ProjectID {
			continue
		}
		if filter.DeviceID != "" && (u.DeviceID == nil || *u.DeviceID != filter.DeviceID) {
			continue
		}
		if filter.Email != "" && (u.Email == nil || *u.Email != filter.Email) {
			continue
		}
		if filter.ExternalID != "" && (u.ExternalID == nil || *u.ExternalID != filter.ExternalID) {
			continue
		}
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) GetDistribution(ctx context.Context, userID, experimentID string) (*Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetDistribution(ctx, userID, experimentID)
}
func (t *memoryTx) GetDistribution(ctx context.Context, userID, experimentID string) (*Distribution, error) {
	return t.core.GetDistribution(ctx, userID, experimentID)
}
func (c *core) GetDistribution(ctx context.Context, userID, experimentID string) (*Distribution, error) {
	for _, d := range c.distributions {
		if d.UserID == userID && d.ExperimentID == experimentID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateDistribution(ctx context.Context, d *Distribution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateDistribution(ctx, d)
}
func (t *memoryTx) CreateDistribution(ctx context.Context, d *Distribution) error {
	return t.core.CreateDistribution(ctx, d)
}
func (c *core) CreateDistribution(ctx context.Context, d *Distribution) error {
	for _, existing := range c.distributions {
		if existing.UserID == d.UserID && existing.ExperimentID == d.ExperimentID {
			return ErrUniqueViolation
		}
	}
	now := time.Now().UTC()
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt, d.UpdatedAt = now, now
	cp := *d
	c.distributions[d.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateDistributionVariant(ctx context.Context, id, variantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.UpdateDistributionVariant(ctx, id, variantID)
}
func (t *memoryTx) UpdateDistributionVariant(ctx context.Context, id, variantID string) error {
	return t.core.UpdateDistributionVariant(ctx, id, variantID)
}
func (c *core) UpdateDistributionVariant(ctx context.Context, id, variantID string) error {
	d, ok := c.distributions[id]
	if !ok {
		return ErrNotFound
	}
	cp := *d
	cp.VariantID = variantID
	cp.UpdatedAt = time.Now().UTC()
	c.distributions[id] = &cp
	return nil
}

func (m *MemoryStore) ListDistributions(ctx context.Context, filter DistributionFilter) ([]*Distribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListDistributions(ctx, filter)
}
func (t *memoryTx) ListDistributions(ctx context.Context, filter DistributionFilter) ([]*Distribution, error) {
	return t.core.ListDistributions(ctx, filter)
}
func (c *core) ListDistributions(ctx context.Context, filter DistributionFilter) ([]*Distribution, error) {
	var out []*Distribution
	for _, d := range c.distributions {
		if filter.ExperimentID != "" && d.ExperimentID != filter.ExperimentID {
			continue
		}
		if filter.UserID != "" && d.UserID != filter.UserID {
			continue
		}
		if filter.VariantID != "" && d.VariantID != filter.VariantID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteDistributionsByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.DeleteDistributionsByUser(ctx, userID)
}
func (t *memoryTx) DeleteDistributionsByUser(ctx context.Context, userID string) error {
	return t.core.DeleteDistributionsByUser(ctx, userID)
}
func (c *core) DeleteDistributionsByUser(ctx context.Context, userID string) error {
	for id, d := range c.distributions {
		if d.UserID == userID {
			delete(c.distributions, id)
		}
	}
	return nil
}

func (m *MemoryStore) CreateAdminUser(ctx context.Context, a *AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateAdminUser(ctx, a)
}
func (t *memoryTx) CreateAdminUser(ctx context.Context, a *AdminUser) error {
	return t.core.CreateAdminUser(ctx, a)
}
func (c *core) CreateAdminUser(ctx context.Context, a *AdminUser) error {
	for _, existing := range c.adminUsers {
		if existing.Email == a.Email {
			return ErrUniqueViolation
		}
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	cp := *a
	c.adminUsers[a.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetAdminUserByEmail(ctx, email)
}
func (t *memoryTx) GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	return t.core.GetAdminUserByEmail(ctx, email)
}
func (c *core) GetAdminUserByEmail(ctx context.Context, email string) (*AdminUser, error) {
	for _, a := range c.adminUsers {
		if a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CreateWebhook(ctx context.Context, wh *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateWebhook(ctx, wh)
}
func (t *memoryTx) CreateWebhook(ctx context.Context, wh *Webhook) error {
	return t.core.CreateWebhook(ctx, wh)
}
func (c *core) CreateWebhook(ctx context.Context, wh *Webhook) error {
	now := time.Now().UTC()
	if wh.ID == "" {
		wh.ID = uuid.NewString()
	}
	wh.CreatedAt, wh.UpdatedAt = now, now
	cp := *wh
	c.webhooks[wh.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.GetWebhook(ctx, id)
}
func (t *memoryTx) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	return t.core.GetWebhook(ctx, id)
}
func (c *core) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	wh, ok := c.webhooks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *wh
	return &cp, nil
}

func (m *MemoryStore) ListWebhooks(ctx context.Context, projectID string) ([]*Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListWebhooks(ctx, projectID)
}
func (t *memoryTx) ListWebhooks(ctx context.Context, projectID string) ([]*Webhook, error) {
	return t.core.ListWebhooks(ctx, projectID)
}
func (c *core) ListWebhooks(ctx context.Context, projectID string) ([]*Webhook, error) {
	var out []*Webhook
	for _, wh := range c.webhooks {
		if projectID == "" || wh.ProjectID == projectID {
			cp := *wh
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListActiveWebhooks(ctx)
}
func (t *memoryTx) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	return t.core.ListActiveWebhooks(ctx)
}
func (c *core) ListActiveWebhooks(ctx context.Context) ([]*Webhook, error) {
	var out []*Webhook
	for _, wh := range c.webhooks {
		if wh.Active {
			cp := *wh
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) UpdateWebhook(ctx context.Context, wh *Webhook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.UpdateWebhook(ctx, wh)
}
func (t *memoryTx) UpdateWebhook(ctx context.Context, wh *Webhook) error {
	return t.core.UpdateWebhook(ctx, wh)
}
func (c *core) UpdateWebhook(ctx context.Context, wh *Webhook) error {
	existing, ok := c.webhooks[wh.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *wh
	cp.CreatedAt = existing.CreatedAt
	cp.LastTriggeredAt = existing.LastTriggeredAt
	cp.UpdatedAt = time.Now().UTC()
	c.webhooks[wh.ID] = &cp
	*wh = cp
	return nil
}

func (m *MemoryStore) DeleteWebhook(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.DeleteWebhook(ctx, id)
}
func (t *memoryTx) DeleteWebhook(ctx context.Context, id string) error {
	return t.core.DeleteWebhook(ctx, id)
}
func (c *core) DeleteWebhook(ctx context.Context, id string) error {
	if _, ok := c.webhooks[id]; !ok {
		return ErrNotFound
	}
	delete(c.webhooks, id)
	for did, d := range c.webhookDeliveries {
		if d.WebhookID == id {
			delete(c.webhookDeliveries, did)
		}
	}
	return nil
}

func (m *MemoryStore) TouchWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.TouchWebhookTriggered(ctx, id, at)
}
func (t *memoryTx) TouchWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	return t.core.TouchWebhookTriggered(ctx, id, at)
}
func (c *core) TouchWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	wh, ok := c.webhooks[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	wh.LastTriggeredAt = &t
	wh.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateWebhookDelivery(ctx, d)
}
func (t *memoryTx) CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	return t.core.CreateWebhookDelivery(ctx, d)
}
func (c *core) CreateWebhookDelivery(ctx context.Context, d *WebhookDelivery) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	d.CreatedAt = time.Now().UTC()
	cp := *d
	c.webhookDeliveries[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListWebhookDeliveries(ctx, webhookID, limit)
}
func (t *memoryTx) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error) {
	return t.core.ListWebhookDeliveries(ctx, webhookID, limit)
}
func (c *core) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]*WebhookDelivery, error) {
	var out []*WebhookDelivery
	for _, d := range c.webhookDeliveries {
		if d.WebhookID == webhookID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateAuditEntry(ctx context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.CreateAuditEntry(ctx, e)
}
func (t *memoryTx) CreateAuditEntry(ctx context.Context, e *AuditEntry) error {
	return t.core.CreateAuditEntry(ctx, e)
}
func (c *core) CreateAuditEntry(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.CreatedAt = time.Now().UTC()
	cp := *e
	c.auditEntries[e.ID] = &cp
	return nil
}

func (m *MemoryStore) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.core.ListAuditEntries(ctx, filter)
}
func (t *memoryTx) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	return t.core.ListAuditEntries(ctx, filter)
}
func (c *core) ListAuditEntries(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var out []*AuditEntry
	for _, e := range c.auditEntries {
		if filter.ProjectID != "" && e.ProjectID != filter.ProjectID {
			continue
		}
		if filter.ResourceType != "" && e.ResourceType != filter.ResourceType {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// memoryTx.WithTx is unreachable in practice (nothing here needs nested
// transactions) but is required to satisfy the Store interface.
func (t *memoryTx) WithTx(ctx context.Context, fn func(Tx) error) error {
	return fn(t)
}
