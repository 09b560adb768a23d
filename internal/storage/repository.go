package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Clarekpd/ss-expense-tracker/internal/core"
)

// Dialect names a supported SQL database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func (d Dialect) driverName() string {
	if d == DialectPostgres {
		return "pgx"
	}
	return "sqlite"
}

func (d Dialect) placeholder() sq.PlaceholderFormat {
	if d == DialectPostgres {
		return sq.Dollar
	}
	return sq.Question
}

var (
	userColumns    = []string{"id", "username", "password_hash", "created_at", "updated_at"}
	expenseColumns = []string{"id", "user_id", "amount", "category", "spent_at", "notes", "created_at"}
)

// SQLRepository implements Store on SQLite or PostgreSQL. Instants are kept
// as Unix milliseconds so both dialects store and compare them the same way.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
}

// NewSQLiteRepository opens (creating if needed) the SQLite file at dbPath
// and migrates it.
func NewSQLiteRepository(dbPath string) (*SQLRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	return open(context.Background(), DialectSQLite, dsn)
}

// NewPostgresRepository connects to the database at dsn and migrates it.
func NewPostgresRepository(ctx context.Context, dsn string) (*SQLRepository, error) {
	return open(ctx, DialectPostgres, dsn)
}

func open(ctx context.Context, dialect Dialect, dsn string) (*SQLRepository, error) {
	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dialect, dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLRepository{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(dialect.placeholder()).RunWith(db),
	}, nil
}

func (r *SQLRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Dialect reports which database backs the repository.
func (r *SQLRepository) Dialect() Dialect {
	return r.dialect
}

func (r *SQLRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.sb.Insert("users").
		Columns(userColumns...).
		Values(u.ID, u.Username, u.PasswordHash, toMillis(u.CreatedAt), toMillis(u.UpdatedAt)).
		ExecContext(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("username %q: %w", u.Username, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *SQLRepository) UserByUsername(ctx context.Context, username string) (core.User, error) {
	return r.userWhere(ctx, sq.Eq{"username": username})
}

func (r *SQLRepository) UserByID(ctx context.Context, id string) (core.User, error) {
	return r.userWhere(ctx, sq.Eq{"id": id})
}

func (r *SQLRepository) userWhere(ctx context.Context, pred sq.Eq) (core.User, error) {
	var (
		u                    core.User
		createdAt, updatedAt int64
	)
	err := r.sb.Select(userColumns...).
		From("users").
		Where(pred).
		QueryRowContext(ctx).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("select user: %w", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}

func (r *SQLRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	res, err := r.sb.Update("users").
		Set("password_hash", passwordHash).
		Set("updated_at", toMillis(updatedAt)).
		Where(sq.Eq{"id": id}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectOneRow(res)
}

func (r *SQLRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	_, err := r.sb.Insert("expenses").
		Columns(expenseColumns...).
		Values(e.ID, e.UserID, e.Amount, e.Category, toMillis(e.Date), e.Notes, toMillis(e.CreatedAt)).
		ExecContext(ctx)
	if isUniqueViolation(err) {
		return fmt.Errorf("expense %s: %w", e.ID, core.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListExpenses(ctx context.Context, userID string) ([]core.Expense, error) {
	rows, err := r.sb.Select(expenseColumns...).
		From("expenses").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("spent_at DESC", "created_at DESC").
		QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("select expenses: %w", err)
	}
	defer rows.Close()

	out := make([]core.Expense, 0)
	for rows.Next() {
		var (
			e                  core.Expense
			spentAt, createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Amount, &e.Category, &spentAt, &e.Notes, &createdAt); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.Date = fromMillis(spentAt)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) UpdateExpense(ctx context.Context, userID, id string, p core.ExpensePatch) error {
	owned := sq.Eq{"id": id, "user_id": userID}

	if p.IsEmpty() {
		var one int
		err := r.sb.Select("1").From("expenses").Where(owned).QueryRowContext(ctx).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check expense: %w", err)
		}
		return nil
	}

	set := map[string]interface{}{}
	if p.Amount != nil {
		set["amount"] = *p.Amount
	}
	if p.Category != nil {
		set["category"] = *p.Category
	}
	if p.Date != nil {
		set["spent_at"] = toMillis(*p.Date)
	}
	if p.Notes != nil {
		set["notes"] = *p.Notes
	}

	res, err := r.sb.Update("expenses").SetMap(set).Where(owned).ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("update expense: %w", err)
	}
	return expectOneRow(res)
}

func (r *SQLRepository) DeleteExpense(ctx context.Context, userID, id string) error {
	res, err := r.sb.Delete("expenses").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
