// Package repomanager vends repository implementations bound to a DBTX and
// owns database opening and schema migrations for the supported drivers.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// RepositoryManager hands out repositories bound to either a *sql.DB or a
// *sql.Tx, so that services can compose several stores inside
// dbx.WithTx.
type RepositoryManager interface {
	// RunMigrations applies the embedded goose migrations for the
	// manager's dialect.
	RunMigrations(context.Context, *sql.DB) error

	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
