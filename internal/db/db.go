package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"stockledger/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Sentinel errors surfaced to the ledger layer
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrNoHolding         = errors.New("no holding for symbol")
	ErrDuplicateUsername = errors.New("username already taken")
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user with the default starting cash balance
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, cash, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by id
func (db *DB) GetUserByID(ctx context.Context, userID int) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = $1",
		userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetHoldings retrieves all current holdings for a user
func (db *DB) GetHoldings(ctx context.Context, userID int) ([]models.Holding, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT user_id, symbol, shares FROM current_stocks WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get holdings: %w", err)
	}
	defer rows.Close()

	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.UserID, &h.Symbol, &h.Shares); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// GetHolding retrieves one holding row, ErrNoHolding if absent
func (db *DB) GetHolding(ctx context.Context, userID int, symbol string) (*models.Holding, error) {
	h := &models.Holding{}
	err := db.Pool.QueryRow(ctx,
		"SELECT user_id, symbol, shares FROM current_stocks WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&h.UserID, &h.Symbol, &h.Shares)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoHolding
		}
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return h, nil
}

// GetPurchases retrieves all purchase records for a user, oldest first
func (db *DB) GetPurchases(ctx context.Context, userID int) ([]models.Transaction, error) {
	return db.getTransactions(ctx, userID,
		"SELECT purchase_id, user_id, symbol, shares, batch_price, datetime FROM purchases WHERE user_id = $1 ORDER BY purchase_id",
		models.TransactionBuy)
}

// GetSells retrieves all sell records for a user, oldest first
func (db *DB) GetSells(ctx context.Context, userID int) ([]models.Transaction, error) {
	return db.getTransactions(ctx, userID,
		"SELECT sell_id, user_id, symbol, shares, batch_price, datetime FROM sells WHERE user_id = $1 ORDER BY sell_id",
		models.TransactionSell)
}

func (db *DB) getTransactions(ctx context.Context, userID int, query string, typ models.TransactionType) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer rows.Close()

	var records []models.Transaction
	for rows.Next() {
		var rec models.Transaction
		var at time.Time
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Symbol, &rec.Shares, &rec.BatchPrice, &at); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		rec.Type = typ
		rec.Datetime = models.Timestamp(at)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Trade is the handle a ledger operation uses inside one transaction.
// All writes either commit together or roll back together.
type Trade struct {
	tx pgx.Tx
}

// ExecTrade runs fn inside a single transaction. Any error from fn rolls
// back every write fn made.
func (db *DB) ExecTrade(ctx context.Context, fn func(*Trade) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Trade{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UserForUpdate locks the user row for the remainder of the transaction.
// Concurrent trades by the same user serialize on this lock.
func (t *Trade) UserForUpdate(ctx context.Context, userID int) (*models.User, error) {
	user := &models.User{}
	err := t.tx.QueryRow(ctx,
		"SELECT id, username, password_hash, cash, created_at FROM users WHERE id = $1 FOR UPDATE",
		userID).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Cash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to lock user: %w", err)
	}
	return user, nil
}

// HoldingForUpdate locks one holding row, ErrNoHolding if absent
func (t *Trade) HoldingForUpdate(ctx context.Context, userID int, symbol string) (*models.Holding, error) {
	h := &models.Holding{}
	err := t.tx.QueryRow(ctx,
		"SELECT user_id, symbol, shares FROM current_stocks WHERE user_id = $1 AND symbol = $2 FOR UPDATE",
		userID, symbol).Scan(&h.UserID, &h.Symbol, &h.Shares)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoHolding
		}
		return nil, fmt.Errorf("failed to lock holding: %w", err)
	}
	return h, nil
}

// UpdateCash sets the user's cash balance
func (t *Trade) UpdateCash(ctx context.Context, userID int, cash decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, "UPDATE users SET cash = $1 WHERE id = $2", cash, userID)
	if err != nil {
		return fmt.Errorf("failed to update cash: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// InsertPurchase appends one BUY record
func (t *Trade) InsertPurchase(ctx context.Context, userID int, symbol string, shares int, batchPrice decimal.Decimal, at time.Time) (*models.Transaction, error) {
	return t.insertRecord(ctx,
		"INSERT INTO purchases (user_id, symbol, shares, batch_price, datetime) VALUES ($1, $2, $3, $4, $5) RETURNING purchase_id",
		models.TransactionBuy, userID, symbol, shares, batchPrice, at)
}

// InsertSell appends one SELL record
func (t *Trade) InsertSell(ctx context.Context, userID int, symbol string, shares int, batchPrice decimal.Decimal, at time.Time) (*models.Transaction, error) {
	return t.insertRecord(ctx,
		"INSERT INTO sells (user_id, symbol, shares, batch_price, datetime) VALUES ($1, $2, $3, $4, $5) RETURNING sell_id",
		models.TransactionSell, userID, symbol, shares, batchPrice, at)
}

func (t *Trade) insertRecord(ctx context.Context, query string, typ models.TransactionType, userID int, symbol string, shares int, batchPrice decimal.Decimal, at time.Time) (*models.Transaction, error) {
	rec := &models.Transaction{
		UserID:     userID,
		Symbol:     symbol,
		Shares:     shares,
		BatchPrice: batchPrice,
		Type:       typ,
		Datetime:   models.Timestamp(at),
	}
	if err := t.tx.QueryRow(ctx, query, userID, symbol, shares, batchPrice, at).Scan(&rec.ID); err != nil {
		return nil, fmt.Errorf("failed to insert %s record: %w", typ, err)
	}
	return rec, nil
}

// UpsertHolding adds shares to a holding, creating the row on first buy
// of the symbol. Returns the new share count.
func (t *Trade) UpsertHolding(ctx context.Context, userID int, symbol string, shares int) (int, error) {
	var total int
	err := t.tx.QueryRow(ctx,
		`INSERT INTO current_stocks (user_id, symbol, shares) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET shares = current_stocks.shares + EXCLUDED.shares
		 RETURNING shares`,
		userID, symbol, shares).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert holding: %w", err)
	}
	return total, nil
}

// SetHoldingShares persists a decremented share count
func (t *Trade) SetHoldingShares(ctx context.Context, userID int, symbol string, shares int) error {
	tag, err := t.tx.Exec(ctx,
		"UPDATE current_stocks SET shares = $1 WHERE user_id = $2 AND symbol = $3",
		shares, userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to update holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoHolding
	}
	return nil
}

// DeleteHolding removes a holding row once its share count reaches zero
func (t *Trade) DeleteHolding(ctx context.Context, userID int, symbol string) error {
	tag, err := t.tx.Exec(ctx,
		"DELETE FROM current_stocks WHERE user_id = $1 AND symbol = $2",
		userID, symbol)
	if err != nil {
		return fmt.Errorf("failed to delete holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoHolding
	}
	return nil
}
