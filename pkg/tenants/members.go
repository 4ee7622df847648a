package tenants

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/audit"
	"github.com/lockhaven/tenantd/pkg/authz"
)

// AddMember adds a user to a tenant. Master admin only; the audit entry
// commits with the insert.
func (s *PostgresService) AddMember(ctx context.Context, actor *authz.Actor, tenantID int64, req *AddMemberRequest) (*TenantMember, error) {
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

	var userName, userEmail string
	err = tx.QueryRowContext(ctx,
		`SELECT name, email FROM users WHERE id = $1`, req.UserID,
	).Scan(&userName, &userEmail)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	member := &TenantMember{
		TenantID:  tenantID,
		UserID:    req.UserID,
		Role:      req.Role,
		UserName:  userName,
		UserEmail: userEmail,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		tenantID, req.UserID, string(req.Role),
	).Scan(&member.ID, &member.CreatedAt, &member.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.Validation("user is already a member of this tenant")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionAddTenantMember,
		TargetType: audit.TargetTenantMember,
		TargetID:   strconv.FormatInt(member.ID, 10),
		Details: map[string]interface{}{
			"tenantId":  tenantID,
			"userId":    req.UserID,
			"userEmail": userEmail,
			"role":      req.Role,
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return member, nil
}

// RemoveMember removes a user from a tenant. Master admin only.
func (s *PostgresService) RemoveMember(ctx context.Context, actor *authz.Actor, tenantID, userID int64) error {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var memberID int64
	var role, userEmail string
	err = tx.QueryRowContext(ctx, `
		SELECT m.id, m.role, u.email
		FROM tenant_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = $1 AND m.user_id = $2
		FOR UPDATE OF m`,
		tenantID, userID,
	).Scan(&memberID, &role, &userEmail)
	if err == sql.ErrNoRows {
		return apperror.NotFound("membership not found")
	}
	if err != nil {
		return fmt.Errorf("failed to lock membership: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM tenant_members WHERE id = $1`, memberID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionRemoveTenantMember,
		TargetType: audit.TargetTenantMember,
		TargetID:   strconv.FormatInt(memberID, 10),
		Details: map[string]interface{}{
			"tenantId":  tenantID,
			"userId":    userID,
			"userEmail": userEmail,
			"role":      role,
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

// UpdateMemberRole changes a member's role. Master admin only; the audit
// entry records the transition.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, actor *authz.Actor, tenantID, userID int64, req *UpdateMemberRoleRequest) (*TenantMember, error) {
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

	member := &TenantMember{TenantID: tenantID, UserID: userID, Role: req.Role}
	var previousRole string
	err = tx.QueryRowContext(ctx, `
		SELECT id, role FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
		FOR UPDATE`,
		tenantID, userID,
	).Scan(&member.ID, &previousRole)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("membership not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock membership: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE tenant_members SET role = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING created_at, updated_at`,
		string(req.Role), member.ID,
	).Scan(&member.CreatedAt, &member.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update member role: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionUpdateTenantMemberRole,
		TargetType: audit.TargetTenantMember,
		TargetID:   strconv.FormatInt(member.ID, 10),
		Details: map[string]interface{}{
			"tenantId":     tenantID,
			"userId":       userID,
			"previousRole": previousRole,
			"newRole":      req.Role,
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return member, nil
}

// ListMembers returns all members of a tenant with their user details
func (s *PostgresService) ListMembers(ctx context.Context, tenantID int64) ([]*TenantMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.tenant_id, m.user_id, m.role, m.created_at, m.updated_at,
		       u.name, u.email
		FROM tenant_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.tenant_id = $1
		ORDER BY m.created_at`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*TenantMember
	for rows.Next() {
		member := &TenantMember{}
		var role string
		err := rows.Scan(&member.ID, &member.TenantID, &member.UserID, &role,
			&member.CreatedAt, &member.UpdatedAt, &member.UserName, &member.UserEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		member.Role = authz.Role(role)
		members = append(members, member)
	}

	return members, rows.Err()
}

// Leave removes the actor's own membership. Self-service: no privilege check
// beyond being the member, and no audit entry.
func (s *PostgresService) Leave(ctx context.Context, actor *authz.Actor, tenantID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, actor.ID)
	if err != nil {
		return fmt.Errorf("failed to leave tenant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("you are not a member of this tenant")
	}

	return nil
}

// CreateInvitation invites a user by email to join a tenant. The invitation
// token is single use and expires after ttl.
func (s *PostgresService) CreateInvitation(ctx context.Context, actor *authz.Actor, tenantID int64, req *CreateInvitationRequest, ttl time.Duration) (*TenantInvitation, error) {
	tenant, err := s.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if err := req.Validate(tenant.DefaultRole); err != nil {
		return nil, err
	}

	invitation := &TenantInvitation{
		TenantID:  tenantID,
		Email:     req.Email,
		Role:      req.Role,
		Token:     uuid.NewString(),
		InvitedBy: actor.ID,
		ExpiresAt: time.Now().Add(ttl),
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tenant_invitations (tenant_id, email, role, token, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		invitation.TenantID, invitation.Email, string(invitation.Role),
		invitation.Token, invitation.InvitedBy, invitation.ExpiresAt,
	).Scan(&invitation.ID, &invitation.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Validationf("an invitation for %s already exists", req.Email)
		}
		return nil, fmt.Errorf("failed to create invitation: %w", err)
	}

	return invitation, nil
}

// ListInvitations returns pending invitations for a tenant. Tokens are not
// included in listings.
func (s *PostgresService) ListInvitations(ctx context.Context, tenantID int64) ([]*TenantInvitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, email, role, invited_by, expires_at, accepted_at, created_at
		FROM tenant_invitations
		WHERE tenant_id = $1 AND accepted_at IS NULL
		ORDER BY created_at DESC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*TenantInvitation
	for rows.Next() {
		inv := &TenantInvitation{}
		var role string
		var acceptedAt sql.NullTime
		err := rows.Scan(&inv.ID, &inv.TenantID, &inv.Email, &role,
			&inv.InvitedBy, &inv.ExpiresAt, &acceptedAt, &inv.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		inv.Role = authz.Role(role)
		if acceptedAt.Valid {
			inv.AcceptedAt = &acceptedAt.Time
		}
		invitations = append(invitations, inv)
	}

	return invitations, rows.Err()
}

// AcceptInvitation redeems an invitation token for the actor, creating the
// membership and marking the invitation accepted in one transaction. The
// resulting membership is audited like any other addition.
func (s *PostgresService) AcceptInvitation(ctx context.Context, actor *authz.Actor, token string) (*TenantMember, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	inv := &TenantInvitation{}
	var role string
	var acceptedAt sql.NullTime
	err = tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, email, role, expires_at, accepted_at
		FROM tenant_invitations
		WHERE token = $1
		FOR UPDATE`, token,
	).Scan(&inv.ID, &inv.TenantID, &inv.Email, &role, &inv.ExpiresAt, &acceptedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("invitation not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock invitation: %w", err)
	}
	inv.Role = authz.Role(role)

	if acceptedAt.Valid {
		return nil, apperror.Validation("invitation has already been accepted")
	}
	if inv.IsExpired() {
		return nil, apperror.Validation("invitation has expired")
	}
	if inv.Email != actor.Email {
		return nil, apperror.Authorization("invitation was issued to a different email address")
	}

	member := &TenantMember{
		TenantID:  inv.TenantID,
		UserID:    actor.ID,
		Role:      inv.Role,
		UserName:  actor.Name,
		UserEmail: actor.Email,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
		RETURNING id, created_at, updated_at`,
		inv.TenantID, actor.ID, string(inv.Role),
	).Scan(&member.ID, &member.CreatedAt, &member.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.Validation("user is already a member of this tenant")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tenant_invitations SET accepted_at = NOW() WHERE id = $1`, inv.ID); err != nil {
		return nil, fmt.Errorf("failed to mark invitation accepted: %w", err)
	}

	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     audit.ActionAddTenantMember,
		TargetType: audit.TargetTenantMember,
		TargetID:   strconv.FormatInt(member.ID, 10),
		Details: map[string]interface{}{
			"tenantId":     inv.TenantID,
			"userId":       actor.ID,
			"userEmail":    actor.Email,
			"role":         inv.Role,
			"invitationId": inv.ID,
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return member, nil
}

// CleanupExpiredInvitations deletes unaccepted invitations past their expiry
// and returns how many were removed. Run on a schedule.
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM tenant_invitations WHERE accepted_at IS NULL AND expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired invitations: %w", err)
	}

	return result.RowsAffected()
}
