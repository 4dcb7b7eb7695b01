package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/teamvault/internal/errs"
	"github.com/org/teamvault/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// isUniqueViolation reports whether err is a unique-constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Users ---

const userColumns = `id, email, password_hash, first_name, last_name, role_level,
	is_active, invitation_token, invitation_expires_at, invited_by_id, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.RoleLevel, &u.IsActive, &u.InvitationToken, &u.InvitationExpiresAt,
		&u.InvitedByID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresBackend) CreateUser(ctx context.Context, u *models.User) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, role_level,
		                    is_active, invitation_token, invitation_expires_at, invited_by_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 RETURNING id, created_at`,
		u.Email, u.PasswordHash, u.FirstName, u.LastName, u.RoleLevel,
		u.IsActive, u.InvitationToken, u.InvitationExpiresAt, u.InvitedByID,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return fmt.Errorf("inserting user: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (p *PostgresBackend) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (p *PostgresBackend) GetUserByInviteToken(ctx context.Context, token string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE invitation_token = $1 AND is_active = FALSE`, token)
	return scanUser(row)
}

func (p *PostgresBackend) UpdateUser(ctx context.Context, u *models.User) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users
		 SET email = $2, password_hash = $3, first_name = $4, last_name = $5,
		     role_level = $6, is_active = $7, updated_at = NOW()
		 WHERE id = $1`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.RoleLevel, u.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errs.ErrConflict
		}
		return fmt.Errorf("updating user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) SetUserActive(ctx context.Context, id int64, active bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("setting user active flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) OwnerExists(ctx context.Context) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE role_level = 7)`,
	).Scan(&exists)
	return exists, err
}

// ActivateInvitedUser is the token-consumption CAS: the WHERE clause requires
// the token to still be present, so a concurrent accept that lost the race
// affects zero rows and maps to ErrNotFound.
func (p *PostgresBackend) ActivateInvitedUser(ctx context.Context, token, passwordHash string) (*models.User, error) {
	row := p.pool.QueryRow(ctx,
		`UPDATE users
		 SET is_active = TRUE, password_hash = $2,
		     invitation_token = NULL, invitation_expires_at = NULL, updated_at = NOW()
		 WHERE invitation_token = $1 AND is_active = FALSE
		 RETURNING `+userColumns,
		token, passwordHash,
	)
	return scanUser(row)
}

func (p *PostgresBackend) ListPendingInvites(ctx context.Context, inviterID int64) ([]*models.User, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE invited_by_id = $1 AND is_active = FALSE AND invitation_token IS NOT NULL
		 ORDER BY created_at`,
		inviterID,
	)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func (p *PostgresBackend) ListActiveUsersUpTo(ctx context.Context, maxRoleLevel int) ([]*models.User, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE is_active = TRUE AND role_level <= $1
		 ORDER BY role_level DESC, email`,
		maxRoleLevel,
	)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]*models.User, error) {
	defer rows.Close()
	var users []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// --- Secrets ---

const secretColumns = `id, title, description, encrypted_data, created_by_user_id,
	is_password, share_mode, min_role_level, created_at, updated_at`

func scanSecret(row pgx.Row) (*models.Secret, error) {
	var s models.Secret
	err := row.Scan(&s.ID, &s.Title, &s.Description, &s.EncryptedData, &s.OwnerID,
		&s.IsPassword, &s.Mode, &s.MinRoleLevel, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresBackend) CreateSecret(ctx context.Context, s *models.Secret) error {
	err := p.pool.QueryRow(ctx,
		`INSERT INTO secrets (title, description, encrypted_data, created_by_user_id,
		                      is_password, share_mode, min_role_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING id, created_at`,
		s.Title, s.Description, s.EncryptedData, s.OwnerID,
		s.IsPassword, s.Mode, s.MinRoleLevel,
	).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting secret: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetSecret(ctx context.Context, id int64) (*models.Secret, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+secretColumns+` FROM secrets WHERE id = $1`, id)
	return scanSecret(row)
}

func (p *PostgresBackend) UpdateSecret(ctx context.Context, s *models.Secret) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE secrets
		 SET title = $2, description = $3, encrypted_data = $4, is_password = $5,
		     updated_at = NOW()
		 WHERE id = $1`,
		s.ID, s.Title, s.Description, s.EncryptedData, s.IsPassword,
	)
	if err != nil {
		return fmt.Errorf("updating secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// DeleteSecret removes the secret; share rows go with it via FK cascade.
func (p *PostgresBackend) DeleteSecret(ctx context.Context, id int64) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (p *PostgresBackend) ListSecretsByOwner(ctx context.Context, ownerID int64) ([]*models.Secret, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+secretColumns+` FROM secrets
		 WHERE created_by_user_id = $1 ORDER BY id`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	return collectSecrets(rows)
}

// ListAccessibleSecrets returns owned secrets unioned with every secret a
// broadcast floor or an explicit share grants the user, deduplicated.
func (p *PostgresBackend) ListAccessibleSecrets(ctx context.Context, userID int64, roleLevel int) ([]*models.Secret, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT DISTINCT s.id, s.title, s.description, s.encrypted_data, s.created_by_user_id,
		        s.is_password, s.share_mode, s.min_role_level, s.created_at, s.updated_at
		 FROM secrets s
		 LEFT JOIN secret_user_shares us
		        ON us.secret_id = s.id AND us.shared_with_user_id = $1
		 WHERE s.created_by_user_id = $1
		    OR (s.share_mode = 'broadcast' AND s.min_role_level IS NOT NULL AND s.min_role_level <= $2)
		    OR (s.share_mode = 'explicit' AND us.id IS NOT NULL)
		 ORDER BY s.id`,
		userID, roleLevel,
	)
	if err != nil {
		return nil, err
	}
	return collectSecrets(rows)
}

func collectSecrets(rows pgx.Rows) ([]*models.Secret, error) {
	defer rows.Close()
	var secrets []*models.Secret
	for rows.Next() {
		s, err := scanSecret(rows)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	return secrets, rows.Err()
}

// --- Shares ---

func (p *PostgresBackend) GetUserShare(ctx context.Context, secretID, granteeID int64) (*models.UserShare, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, secret_id, shared_with_user_id, created_by_user_id, created_at
		 FROM secret_user_shares
		 WHERE secret_id = $1 AND shared_with_user_id = $2`,
		secretID, granteeID,
	)
	var us models.UserShare
	err := row.Scan(&us.ID, &us.SecretID, &us.GranteeID, &us.GrantorID, &us.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &us, nil
}

func (p *PostgresBackend) ListUserShares(ctx context.Context, secretID int64) ([]*models.UserShare, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, secret_id, shared_with_user_id, created_by_user_id, created_at
		 FROM secret_user_shares WHERE secret_id = $1 ORDER BY id`,
		secretID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shares []*models.UserShare
	for rows.Next() {
		var us models.UserShare
		if err := rows.Scan(&us.ID, &us.SecretID, &us.GranteeID, &us.GrantorID, &us.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, &us)
	}
	return shares, rows.Err()
}

func (p *PostgresBackend) ListRoleShares(ctx context.Context, secretID int64) ([]*models.RoleShare, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, secret_id, role_level, created_by_user_id, created_at
		 FROM secret_role_shares WHERE secret_id = $1 ORDER BY id`,
		secretID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var shares []*models.RoleShare
	for rows.Next() {
		var rs models.RoleShare
		if err := rows.Scan(&rs.ID, &rs.SecretID, &rs.RoleLevel, &rs.GrantorID, &rs.CreatedAt); err != nil {
			return nil, err
		}
		shares = append(shares, &rs)
	}
	return shares, rows.Err()
}

func (p *PostgresBackend) ReplaceShares(ctx context.Context, secretID int64, spec models.ShareSpec, grantorID int64) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Validate every grantee before touching existing rows.
	if spec.Mode == models.ModeExplicit && len(spec.GranteeIDs) > 0 {
		var found int64
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM users WHERE id = ANY($1::bigint[])`,
			spec.GranteeIDs,
		).Scan(&found)
		if err != nil {
			return fmt.Errorf("validating grantees: %w", err)
		}
		if found != int64(len(spec.GranteeIDs)) {
			return fmt.Errorf("%w: unknown grantee user id", errs.ErrInvalidArgument)
		}
	}

	if _, err = tx.Exec(ctx,
		`DELETE FROM secret_user_shares WHERE secret_id = $1`, secretID); err != nil {
		return fmt.Errorf("clearing user shares: %w", err)
	}
	if _, err = tx.Exec(ctx,
		`DELETE FROM secret_role_shares WHERE secret_id = $1`, secretID); err != nil {
		return fmt.Errorf("clearing role shares: %w", err)
	}

	var minRole *int
	if spec.Mode == models.ModeBroadcast {
		minRole = &spec.MinRoleLevel
	}
	tag, err := tx.Exec(ctx,
		`UPDATE secrets SET share_mode = $2, min_role_level = $3, updated_at = NOW()
		 WHERE id = $1`,
		secretID, spec.Mode, minRole,
	)
	if err != nil {
		return fmt.Errorf("updating share mode: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}

	switch spec.Mode {
	case models.ModeBroadcast:
		if _, err = tx.Exec(ctx,
			`INSERT INTO secret_role_shares (secret_id, role_level, created_by_user_id, created_at)
			 VALUES ($1, $2, $3, NOW())`,
			secretID, spec.MinRoleLevel, grantorID,
		); err != nil {
			return fmt.Errorf("inserting role share: %w", err)
		}
	case models.ModeExplicit:
		for _, granteeID := range spec.GranteeIDs {
			if _, err = tx.Exec(ctx,
				`INSERT INTO secret_user_shares (secret_id, shared_with_user_id, created_by_user_id, created_at)
				 VALUES ($1, $2, $3, NOW())`,
				secretID, granteeID, grantorID,
			); err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: duplicate grantee", errs.ErrConflict)
				}
				return fmt.Errorf("inserting user share: %w", err)
			}
		}
	}
	return tx.Commit(ctx)
}

// --- Sessions ---

func (p *PostgresBackend) CreateSession(ctx context.Context, s *models.Session, tokenHash string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (id, token_hash, user_id, created_at, expires_at)
		 VALUES ($1::uuid, $2, $3, $4, $5)`,
		s.ID, tokenHash, s.UserID, s.CreatedAt, s.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

func (p *PostgresBackend) GetSessionByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, expires_at, revoked_at
		 FROM sessions WHERE token_hash = $1`,
		tokenHash,
	)
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.RevokedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (p *PostgresBackend) RevokeSession(ctx context.Context, id string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sessions SET revoked_at = NOW() WHERE id = $1::uuid`, id)
	return err
}

// --- Metrics ---

func (p *PostgresBackend) CountActiveUsers(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE is_active = TRUE`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) CountSecrets(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM secrets`).Scan(&count)
	return count, err
}

func (p *PostgresBackend) CountPendingInvites(ctx context.Context) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM users WHERE is_active = FALSE AND invitation_token IS NOT NULL`,
	).Scan(&count)
	return count, err
}
