// Package users declares the user store contract and its SQL implementation.
package users

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository persists user accounts. Lookups return common.ErrorNotFound
// when no row matches; Create returns common.ErrUserAlreadyExists when the
// email is taken.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id int64) (*models.User, error)
	Update(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error)
	List(ctx context.Context, limit, offset int) ([]*models.User, error)
}
