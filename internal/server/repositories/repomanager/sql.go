package repomanager

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names.
const (
	DriverPostgres = "pgx"
	DriverSQLite   = "sqlite"
)

const pingTimeout = 2 * time.Second

// SQLRepositoryManager vends the SQL repositories and migrates the schema
// for one dialect ("postgres" or "sqlite").
type SQLRepositoryManager struct {
	dialect string
}

func (m *SQLRepositoryManager) Dialect() string { return m.dialect }

// Users returns a users.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) Users(db dbx.DBTX) users.Repository {
	return users.NewSQLRepository(db)
}

// RefreshTokens returns a refreshtokens.Repository bound to the provided DBTX.
func (m *SQLRepositoryManager) RefreshTokens(db dbx.DBTX) refreshtokens.Repository {
	return refreshtokens.NewSQLRepository(db)
}

// migrate is a seam for testing the goose provider run.
var migrate = func(ctx context.Context, dialect goose.Dialect, db *sql.DB, fsys fs.FS) error {
	provider, err := goose.NewProvider(dialect, db, fsys)
	if err != nil {
		return err
	}
	_, err = provider.Up(ctx)
	return err
}

// RunMigrations applies the embedded migrations of the manager's dialect.
func (m *SQLRepositoryManager) RunMigrations(ctx context.Context, db *sql.DB) error {
	fsys, err := migrations.ForDialect(m.dialect)
	if err != nil {
		return err
	}

	dialect := goose.DialectPostgres
	if m.dialect == "sqlite" {
		dialect = goose.DialectSQLite3
	}

	if err := migrate(ctx, dialect, db, fsys); err != nil {
		return err
	}
	return nil
}

// NewRepositoryManager returns the manager for a database/sql driver name.
func NewRepositoryManager(driver string) (*SQLRepositoryManager, error) {
	switch driver {
	case DriverPostgres:
		return &SQLRepositoryManager{dialect: "postgres"}, nil
	case DriverSQLite:
		return &SQLRepositoryManager{dialect: "sqlite"}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// Open connects to the database, verifies it answers a ping and returns the
// matching manager. SQLite connections are capped at one so that writers
// queue instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, driver, dsn string) (*sql.DB, *SQLRepositoryManager, error) {
	m, err := NewRepositoryManager(driver)
	if err != nil {
		return nil, nil, err
	}

	if driver == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlOpen(driver, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	return db, m, nil
}

// sqliteDSN pins the time format and turns on foreign keys unless the DSN
// already says otherwise.
func sqliteDSN(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if len(params) == 0 {
		return dsn
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
