package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry wraps a Repository with an in-memory cache keyed by device ID.
//
// The cache is warmed by RefreshCache and kept in sync by the registry's
// own writes. Lookups check the tenant on every hit, so a cached device
// never leaks across tenants. All methods are safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[string]*Device
	cacheMu sync.RWMutex
	logger  Logger
	now     func() time.Time
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
		now:    time.Now,
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock replaces the time source used for timestamps.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// RefreshCache reloads every live device into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	cache := make(map[string]*Device, len(devices))
	for i := range devices {
		cache[devices[i].ID] = devices[i].DeepCopy()
	}

	r.cacheMu.Lock()
	r.cache = cache
	r.cacheMu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Get returns a device in tenantID. A device in another tenant yields
// ErrDeviceNotFound. The result is a copy.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		if !cached.BelongsTo(tenantID) {
			return nil, ErrDeviceNotFound
		}
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()

	return d, nil
}

// List returns the tenant's devices ordered by name.
func (r *Registry) List(ctx context.Context, tenantID string) ([]Device, error) {
	return r.repo.ListByTenant(ctx, tenantID)
}

// Count returns the number of live devices in the tenant.
func (r *Registry) Count(ctx context.Context, tenantID string) (int, error) {
	return r.repo.CountByTenant(ctx, tenantID)
}

// Create validates and stores a new device on behalf of actor.
func (r *Registry) Create(ctx context.Context, actor string, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	if err := ValidateDevice(d); err != nil {
		return err
	}

	d.Stamp(actor)
	d.Touch(r.now())

	if err := r.repo.Create(ctx, d); err != nil {
		return err
	}
	r.store(d)

	r.logger.Info("device created", "tenant_id", d.TenantID, "device_id", d.ID, "kind", d.Kind)
	return nil
}

// Changes are the mutable fields of a device. Nil fields are left as is.
type Changes struct {
	Name     *string
	Kind     *Kind
	Location *string
}

// Update applies changes to a device in tenantID.
func (r *Registry) Update(ctx context.Context, actor, tenantID, id string, changes Changes) (*Device, error) {
	d, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if changes.Name != nil {
		d.Name = *changes.Name
	}
	if changes.Kind != nil {
		d.Kind = *changes.Kind
	}
	if changes.Location != nil {
		d.Location = *changes.Location
	}
	if err := ValidateDevice(d); err != nil {
		return nil, err
	}

	d.Stamp(actor)
	d.Touch(r.now())

	if err := r.repo.Update(ctx, d); err != nil {
		return nil, err
	}
	r.store(d)

	r.logger.Info("device updated", "tenant_id", tenantID, "device_id", id)
	return d.DeepCopy(), nil
}

// Delete soft-deletes a device in tenantID.
func (r *Registry) Delete(ctx context.Context, actor, tenantID, id string) error {
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if err := r.repo.SoftDelete(ctx, tenantID, id, actor, r.now()); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "tenant_id", tenantID, "device_id", id)
	return nil
}

// SetStatus records a status report for a device in tenantID.
func (r *Registry) SetStatus(ctx context.Context, tenantID, id string, status Status) error {
	if !ValidStatus(status) {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	d, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if d.Status == status {
		return nil
	}

	now := r.now()
	if err := r.repo.UpdateStatus(ctx, tenantID, id, status, now); err != nil {
		return err
	}

	d.Status = status
	d.Touch(now)
	r.store(d)

	r.logger.Debug("device status changed", "tenant_id", tenantID, "device_id", id, "status", status)
	return nil
}

func (r *Registry) store(d *Device) {
	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
}
