package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

const userColumns = `id, email, password_hash, role_title, first_name, last_name, paternal_name, phone_number, birthday,
		banned, banned_at, last_activity, email_confirmed, email_confirmed_at, confirmation_token,
		confirmation_sent_at, reset_token_id, reset_token_created_at, created_at`

// SQLRepository implements Repository over dbx.DBTX. The statements use
// $N placeholders understood by both pgx and modernc sqlite.
type SQLRepository struct {
	db dbx.DBTX
}

func NewSQLRepository(db dbx.DBTX) *SQLRepository {
	return &SQLRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	u := &models.User{}
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.FirstName, &u.LastName, &u.PaternalName,
		&u.PhoneNumber, &u.Birthday, &u.Banned, &u.BannedAt, &u.LastActivity, &u.EmailConfirmed,
		&u.EmailConfirmedAt, &u.ConfirmationToken, &u.ConfirmationSentAt, &u.ResetTokenID,
		&u.ResetTokenCreatedAt, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *SQLRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	query :=
		`INSERT INTO users (email, password_hash, role_title, first_name, last_name, paternal_name, phone_number,
		 birthday, email_confirmed, email_confirmed_at, confirmation_token, confirmation_sent_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id
		 `

	role := user.Role
	if role == "" {
		role = common.RoleUser
	}

	err := r.db.QueryRowContext(ctx, query,
		user.Email, user.PasswordHash, role, user.FirstName, user.LastName, user.PaternalName, user.PhoneNumber,
		user.Birthday, user.EmailConfirmed, user.EmailConfirmedAt, user.ConfirmationToken, user.ConfirmationSentAt, user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return nil, common.ErrUserAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.Role = role
	return user, nil
}

func (r *SQLRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.findOne(ctx, query, email)
}

func (r *SQLRepository) FindByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.findOne(ctx, query, id)
}

func (r *SQLRepository) findOne(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// Update writes the non-nil fields of upd and returns the updated row.
// An empty update is a read.
func (r *SQLRepository) Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	if upd.IsEmpty() {
		return r.FindByID(ctx, id)
	}

	sets, args := updateAssignments(upd)
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(sets, ", "), len(args), userColumns)

	u, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// updateAssignments renders "column = $N" pairs in a fixed column order so
// the generated SQL is stable for a given set of fields.
func updateAssignments(upd models.UserUpdate) ([]string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if upd.PasswordHash != nil {
		add("password_hash", *upd.PasswordHash)
	}
	if upd.Role != nil {
		add("role_title", *upd.Role)
	}
	if upd.FirstName != nil {
		add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		add("last_name", *upd.LastName)
	}
	if upd.PaternalName != nil {
		add("paternal_name", *upd.PaternalName)
	}
	if upd.PhoneNumber != nil {
		add("phone_number", *upd.PhoneNumber)
	}
	if upd.Birthday != nil {
		add("birthday", *upd.Birthday)
	}
	if upd.Banned != nil {
		add("banned", *upd.Banned)
	}
	if upd.BannedAt != nil {
		add("banned_at", *upd.BannedAt)
	}
	if upd.LastActivity != nil {
		add("last_activity", *upd.LastActivity)
	}
	if upd.EmailConfirmed != nil {
		add("email_confirmed", *upd.EmailConfirmed)
	}
	if upd.EmailConfirmedAt != nil {
		add("email_confirmed_at", *upd.EmailConfirmedAt)
	}
	if upd.ConfirmationToken != nil {
		add("confirmation_token", *upd.ConfirmationToken)
	}
	if upd.ConfirmationSentAt != nil {
		add("confirmation_sent_at", *upd.ConfirmationSentAt)
	}
	if upd.ResetTokenID != nil {
		add("reset_token_id", *upd.ResetTokenID)
	}
	if upd.ResetTokenCreatedAt != nil {
		add("reset_token_created_at", *upd.ResetTokenCreatedAt)
	}

	return sets, args
}

func (r *SQLRepository) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
