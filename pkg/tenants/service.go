package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/lib/pq"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/audit"
	"github.com/lockhaven/tenantd/pkg/authz"
)

// PostgresService implements tenant management backed by PostgreSQL
type PostgresService struct {
	db       *sql.DB
	recorder *audit.Recorder
}

// NewPostgresService creates a new PostgreSQL-backed tenant service
func NewPostgresService(db *sql.DB, recorder *audit.Recorder) *PostgresService {
	return &PostgresService{db: db, recorder: recorder}
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint error
func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// CreateTenant provisions a new tenant. Master admin only; the audit entry
// commits with the insert.
func (s *PostgresService) CreateTenant(ctx context.Context, actor *authz.Actor, req *CreateTenantRequest) (*Tenant, error) {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	tenant := &Tenant{
		Slug:        req.Slug,
		Name:        req.Name,
		Domain:      req.Domain,
		DefaultRole: req.DefaultRole,
	}

	query := `
		INSERT INTO tenants (slug, name, domain, default_role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		tenant.Slug, tenant.Name, nullableString(tenant.Domain), string(tenant.DefaultRole),
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Validationf("tenant slug %q is already in use", tenant.Slug)
		}
		return nil, fmt.Errorf("failed to create tenant: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionCreateTenant,
		TargetType: audit.TargetTenant,
		TargetID:   strconv.FormatInt(tenant.ID, 10),
		Details: map[string]interface{}{
			"slug":        tenant.Slug,
			"name":        tenant.Name,
			"defaultRole": tenant.DefaultRole,
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return tenant, nil
}

// GetTenant retrieves a tenant by id
func (s *PostgresService) GetTenant(ctx context.Context, id int64) (*Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, COALESCE(domain, ''), default_role, created_at, updated_at
		FROM tenants WHERE id = $1`, id))
}

// GetTenantBySlug retrieves a tenant by slug
func (s *PostgresService) GetTenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	return s.scanTenant(s.db.QueryRowContext(ctx, `
		SELECT id, slug, name, COALESCE(domain, ''), default_role, created_at, updated_at
		FROM tenants WHERE slug = $1`, slug))
}

func (s *PostgresService) scanTenant(row *sql.Row) (*Tenant, error) {
	tenant := &Tenant{}
	var role string
	err := row.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.Domain,
		&role, &tenant.CreatedAt, &tenant.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("tenant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	tenant.DefaultRole = authz.Role(role)
	return tenant, nil
}

// ListTenants returns all tenants ordered by slug
func (s *PostgresService) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, slug, name, COALESCE(domain, ''), default_role, created_at, updated_at
		FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		tenant := &Tenant{}
		var role string
		err := rows.Scan(&tenant.ID, &tenant.Slug, &tenant.Name, &tenant.Domain,
			&role, &tenant.CreatedAt, &tenant.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenant.DefaultRole = authz.Role(role)
		tenants = append(tenants, tenant)
	}

	return tenants, rows.Err()
}

// UpdateTenant applies a partial update. Master admin only; the audit entry
// captures the full before and after state.
func (s *PostgresService) UpdateTenant(ctx context.Context, actor *authz.Actor, id int64, req *UpdateTenantRequest) (*Tenant, error) {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	before := &Tenant{}
	var beforeRole string
	err = tx.QueryRowContext(ctx, `
		SELECT id, slug, name, COALESCE(domain, ''), default_role, created_at, updated_at
		FROM tenants WHERE id = $1 FOR UPDATE`, id,
	).Scan(&before.ID, &before.Slug, &before.Name, &before.Domain,
		&beforeRole, &before.CreatedAt, &before.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("tenant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock tenant: %w", err)
	}
	before.DefaultRole = authz.Role(beforeRole)

	after := *before
	if req.Name != nil {
		after.Name = *req.Name
	}
	if req.Domain != nil {
		after.Domain = *req.Domain
	}
	if req.DefaultRole != nil {
		after.DefaultRole = *req.DefaultRole
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE tenants SET name = $1, domain = $2, default_role = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`,
		after.Name, nullableString(after.Domain), string(after.DefaultRole), id,
	).Scan(&after.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update tenant: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionUpdateTenant,
		TargetType: audit.TargetTenant,
		TargetID:   strconv.FormatInt(id, 10),
		Details: map[string]interface{}{
			"id":           id,
			"slug":         before.Slug,
			"beforeUpdate": tenantDetails(before),
			"afterUpdate":  tenantDetails(&after),
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &after, nil
}

// DeleteTenant removes a tenant and, via cascade, its memberships and
// invitations. Master admin only.
func (s *PostgresService) DeleteTenant(ctx context.Context, actor *authz.Actor, id int64) error {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var slug, name string
	err = tx.QueryRowContext(ctx,
		`SELECT slug, name FROM tenants WHERE id = $1 FOR UPDATE`, id,
	).Scan(&slug, &name)
	if err == sql.ErrNoRows {
		return apperror.NotFound("tenant not found")
	}
	if err != nil {
		return fmt.Errorf("failed to lock tenant: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete tenant: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionDeleteTenant,
		TargetType: audit.TargetTenant,
		TargetID:   strconv.FormatInt(id, 10),
		Details: map[string]interface{}{
			"slug": slug,
			"name": name,
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ResolveTenant resolves a tenant key, numeric id or slug, to the
// authorization layer's tenant view.
func (s *PostgresService) ResolveTenant(ctx context.Context, key authz.TenantKey) (*authz.Tenant, error) {
	var tenant *Tenant
	var err error

	if id, parseErr := strconv.ParseInt(string(key), 10, 64); parseErr == nil {
		tenant, err = s.GetTenant(ctx, id)
	} else {
		tenant, err = s.GetTenantBySlug(ctx, string(key))
	}
	if err != nil {
		return nil, err
	}

	return &authz.Tenant{
		ID:          tenant.ID,
		Slug:        tenant.Slug,
		Name:        tenant.Name,
		Domain:      tenant.Domain,
		DefaultRole: tenant.DefaultRole,
	}, nil
}

// FindMemberRole returns the role a user holds in a tenant
func (s *PostgresService) FindMemberRole(ctx context.Context, tenantID, userID int64) (authz.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", apperror.NotFound("membership not found")
	}
	if err != nil {
		return "", fmt.Errorf("failed to find member role: %w", err)
	}
	return authz.Role(role), nil
}

func tenantDetails(t *Tenant) map[string]interface{} {
	return map[string]interface{}{
		"name":        t.Name,
		"domain":      t.Domain,
		"defaultRole": t.DefaultRole,
	}
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
