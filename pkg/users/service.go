package users

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/lib/pq"

	"github.com/lockhaven/tenantd/pkg/apperror"
	"github.com/lockhaven/tenantd/pkg/audit"
	"github.com/lockhaven/tenantd/pkg/authz"
)

// PostgresService implements user management backed by PostgreSQL
type PostgresService struct {
	db       *sql.DB
	recorder *audit.Recorder
}

// NewPostgresService creates a new PostgreSQL-backed user service
func NewPostgresService(db *sql.DB, recorder *audit.Recorder) *PostgresService {
	return &PostgresService{db: db, recorder: recorder}
}

func isUniqueViolation(err error) bool {
	pqErr, ok := err.(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// CreateUser registers a new account. Master admin only; accounts normally
// arrive through the identity provider, this is the administrative path.
func (s *PostgresService) CreateUser(ctx context.Context, actor *authz.Actor, req *CreateUserRequest) (*User, error) {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user := &User{Name: req.Name, Email: req.Email}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email)
		VALUES ($1, $2)
		RETURNING id, is_master_admin, created_at, updated_at`,
		req.Name, req.Email,
	).Scan(&user.ID, &user.IsMasterAdmin, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Validationf("a user with email %s already exists", req.Email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

// GetUser retrieves a user by id
func (s *PostgresService) GetUser(ctx context.Context, id int64) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, is_master_admin, created_at, updated_at
		FROM users WHERE id = $1`, id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.IsMasterAdmin,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email
func (s *PostgresService) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, is_master_admin, created_at, updated_at
		FROM users WHERE email = $1`, email,
	).Scan(&user.ID, &user.Name, &user.Email, &user.IsMasterAdmin,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ListUsers returns all users ordered by creation time
func (s *PostgresService) ListUsers(ctx context.Context) ([]*User, error) {
	return s.listUsers(ctx, `
		SELECT id, name, email, is_master_admin, created_at, updated_at
		FROM users ORDER BY created_at`)
}

// ListMasterAdmins returns all users holding the master-admin flag
func (s *PostgresService) ListMasterAdmins(ctx context.Context) ([]*User, error) {
	return s.listUsers(ctx, `
		SELECT id, name, email, is_master_admin, created_at, updated_at
		FROM users WHERE is_master_admin ORDER BY created_at`)
}

func (s *PostgresService) listUsers(ctx context.Context, query string) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user := &User{}
		err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.IsMasterAdmin,
			&user.CreatedAt, &user.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// SetMasterAdmin grants or revokes the master-admin flag. The transaction
// runs serializable and re-counts admins inside it, so two concurrent
// revocations cannot both observe a safe count and drop the last admin.
func (s *PostgresService) SetMasterAdmin(ctx context.Context, actor *authz.Actor, targetUserID int64, granted bool) (*User, error) {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return nil, err
	}
	if err := authz.CheckNotSelf(actor.ID, targetUserID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user := &User{}
	err = tx.QueryRowContext(ctx, `
		SELECT id, name, email, is_master_admin, created_at, updated_at
		FROM users WHERE id = $1 FOR UPDATE`, targetUserID,
	).Scan(&user.ID, &user.Name, &user.Email, &user.IsMasterAdmin,
		&user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperror.NotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}

	if user.IsMasterAdmin == granted {
		if granted {
			return nil, apperror.Validation("user is already a master admin")
		}
		return nil, apperror.Validation("user is not a master admin")
	}

	if !granted {
		adminCount, err := s.countMasterAdmins(ctx, tx)
		if err != nil {
			return nil, err
		}
		if err := authz.CheckNotLastAdmin(adminCount); err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE users SET is_master_admin = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING updated_at`,
		granted, targetUserID,
	).Scan(&user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update master admin flag: %w", err)
	}
	user.IsMasterAdmin = granted

	action := audit.ActionGrantMasterAdmin
	if !granted {
		action = audit.ActionRevokeMasterAdmin
	}
	entry := &audit.Entry{
		UserID:     actor.ID,
		Action:     action,
		TargetType: audit.TargetUser,
		TargetID:   strconv.FormatInt(targetUserID, 10),
		Details: map[string]interface{}{
			"granted":   granted,
			"userEmail": user.Email,
			"userName":  user.Name,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := s.recorder.Record(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, nil
}

// DeleteUser removes an account. Deleting a master admin carries the same
// last-admin protection as a revocation and is audited.
func (s *PostgresService) DeleteUser(ctx context.Context, actor *authz.Actor, targetUserID int64) error {
	if err := authz.RequireMasterAdmin(actor); err != nil {
		return err
	}
	if err := authz.CheckNotSelf(actor.ID, targetUserID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var name, email string
	var isMasterAdmin bool
	err = tx.QueryRowContext(ctx, `
		SELECT name, email, is_master_admin FROM users WHERE id = $1 FOR UPDATE`,
		targetUserID,
	).Scan(&name, &email, &isMasterAdmin)
	if err == sql.ErrNoRows {
		return apperror.NotFound("user not found")
	}
	if err != nil {
		return fmt.Errorf("failed to lock user: %w", err)
	}

	if isMasterAdmin {
		adminCount, err := s.countMasterAdmins(ctx, tx)
		if err != nil {
			return err
		}
		if err := authz.CheckNotLastAdmin(adminCount); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, targetUserID); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if isMasterAdmin {
		entry := &audit.Entry{
			UserID:     actor.ID,
			Action:     audit.ActionDeleteMasterAdmin,
			TargetType: audit.TargetUser,
			TargetID:   strconv.FormatInt(targetUserID, 10),
			Details: map[string]interface{}{
				"userEmail": email,
				"userName":  name,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		}
		if err := s.recorder.Record(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// countMasterAdmins counts the live master-admin population inside the
// caller's transaction.
func (s *PostgresService) countMasterAdmins(ctx context.Context, tx *sql.Tx) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE is_master_admin`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count master admins: %w", err)
	}
	return count, nil
}

// Bootstrap creates the first master admin. It refuses to run once any
// master admin exists; meant for the CLI on a fresh deployment.
func (s *PostgresService) Bootstrap(ctx context.Context, name, email string) (*User, error) {
	req := &CreateUserRequest{Name: name, Email: email}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	adminCount, err := s.countMasterAdmins(ctx, tx)
	if err != nil {
		return nil, err
	}
	if adminCount > 0 {
		return nil, apperror.Validation("a master admin already exists; use the grant operation instead")
	}

	user := &User{Name: name, Email: email, IsMasterAdmin: true}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (name, email, is_master_admin)
		VALUES ($1, $2, TRUE)
		RETURNING id, created_at, updated_at`,
		name, email,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperror.Validationf("a user with email %s already exists", email)
		}
		return nil, fmt.Errorf("failed to create bootstrap admin: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return user, nil
}
