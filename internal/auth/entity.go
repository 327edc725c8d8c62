package auth

import "time"

// Field groups shared by persisted entities. Each is embedded by value.

// Timestamps records creation and last modification.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Touch sets UpdatedAt, and CreatedAt if it is still zero.
func (t *Timestamps) Touch(now time.Time) {
	now = now.UTC().Truncate(time.Second)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// SoftDelete marks a row deleted without removing it.
type SoftDelete struct {
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

// MarkDeleted flags the entity as deleted by actor at now.
func (s *SoftDelete) MarkDeleted(actor string, now time.Time) {
	at := now.UTC().Truncate(time.Second)
	s.IsDeleted = true
	s.DeletedAt = &at
	s.DeletedBy = actor
}

// Deleted reports whether the entity has been soft-deleted.
func (s SoftDelete) Deleted() bool {
	return s.IsDeleted
}

// TenantScope ties an entity to exactly one tenant.
type TenantScope struct {
	TenantID string `json:"tenant_id"`
}

// BelongsTo reports whether the entity lives in tenantID.
func (s TenantScope) BelongsTo(tenantID string) bool {
	return s.TenantID == tenantID
}

// AuditFields records who created and last changed an entity.
type AuditFields struct {
	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
}

// Stamp records actor as the latest modifier, and the creator if unset.
func (a *AuditFields) Stamp(actor string) {
	if a.CreatedBy == "" {
		a.CreatedBy = actor
	}
	a.UpdatedBy = actor
}
