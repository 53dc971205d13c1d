package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"card-match-api/internal/models"
)

// Store-level sentinel errors. The service layer translates these for the API.
var (
	ErrNotFound        = errors.New("database: record not found")
	ErrUsageLimitRaced = errors.New("database: card usage limit reached")
)

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn *sql.DB
}

// NewDB creates a new database connection and initializes the schema.
func NewDB(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables if they don't exist.
func (db *DB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS cards (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			bank_name TEXT NOT NULL,
			is_available INTEGER NOT NULL,
			usage_limit INTEGER NOT NULL,
			current_usage INTEGER NOT NULL,
			rating REAL NOT NULL,
			total_transactions INTEGER NOT NULL,
			discounts TEXT NOT NULL,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			buyer_id TEXT NOT NULL,
			card_owner_id TEXT NOT NULL,
			card_id TEXT NOT NULL,
			product TEXT NOT NULL,
			discount_amount REAL NOT NULL,
			service_fee REAL NOT NULL,
			owner_earnings REAL NOT NULL,
			status TEXT NOT NULL,
			requested_at TEXT NOT NULL,
			approved_at TEXT,
			completed_at TEXT,
			rating REAL,
			review TEXT,
			created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_owner_id ON cards(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_cards_available ON cards(is_available)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_buyer_id ON transactions(buyer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_card_owner_id ON transactions(card_owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_txn_status ON transactions(status)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// UpsertCard creates or updates a card listing.
func (db *DB) UpsertCard(card models.Card) error {
	discountsJSON, err := serializeDiscounts(card.Discounts)
	if err != nil {
		return fmt.Errorf("failed to serialize discounts: %w", err)
	}

	query := `INSERT INTO cards (
		id, owner_id, bank_name, is_available, usage_limit,
		current_usage, rating, total_transactions, discounts, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		owner_id = excluded.owner_id,
		bank_name = excluded.bank_name,
		is_available = excluded.is_available,
		usage_limit = excluded.usage_limit,
		current_usage = excluded.current_usage,
		rating = excluded.rating,
		total_transactions = excluded.total_transactions,
		discounts = excluded.discounts,
		updated_at = excluded.updated_at`

	_, err = db.conn.Exec(
		query,
		card.ID,
		card.OwnerID,
		card.BankName,
		card.IsAvailable,
		card.UsageLimit,
		card.CurrentUsage,
		card.Rating,
		card.TotalTransactions,
		discountsJSON,
		time.Now().UTC().Format(time.RFC3339),
	)

	if err != nil {
		return fmt.Errorf("failed to upsert card: %w", err)
	}

	return nil
}

// GetCard returns a single card by id.
func (db *DB) GetCard(cardID string) (models.Card, error) {
	query := `SELECT id, owner_id, bank_name, is_available, usage_limit,
		current_usage, rating, total_transactions, discounts
		FROM cards WHERE id = ?`

	var card models.Card
	var discountsJSON string

	err := db.conn.QueryRow(query, cardID).Scan(
		&card.ID,
		&card.OwnerID,
		&card.BankName,
		&card.IsAvailable,
		&card.UsageLimit,
		&card.CurrentUsage,
		&card.Rating,
		&card.TotalTransactions,
		&discountsJSON,
	)
	if err == sql.ErrNoRows {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to get card: %w", err)
	}

	card.Discounts, err = deserializeDiscounts(discountsJSON)
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to deserialize discounts: %w", err)
	}

	return card, nil
}

// ListAvailableCards returns all cards currently marked available.
func (db *DB) ListAvailableCards() ([]models.Card, error) {
	return db.queryCards(`SELECT id, owner_id, bank_name, is_available, usage_limit,
		current_usage, rating, total_transactions, discounts
		FROM cards WHERE is_available = 1`)
}

// queryCards runs a card SELECT and scans the rows.
func (db *DB) queryCards(query string, args ...interface{}) ([]models.Card, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []models.Card
	for rows.Next() {
		var card models.Card
		var discountsJSON string

		err := rows.Scan(
			&card.ID,
			&card.OwnerID,
			&card.BankName,
			&card.IsAvailable,
			&card.UsageLimit,
			&card.CurrentUsage,
			&card.Rating,
			&card.TotalTransactions,
			&discountsJSON,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}

		card.Discounts, err = deserializeDiscounts(discountsJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to deserialize discounts: %w", err)
		}

		cards = append(cards, card)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cards: %w", err)
	}

	return cards, nil
}

// ApplyCardUsage applies the usage increment atomically, guarded by the usage
// limit so two racing approvals cannot both pass the capacity check.
func (db *DB) ApplyCardUsage(cardID string) error {
	result, err := db.conn.Exec(
		`UPDATE cards SET current_usage = current_usage + 1, updated_at = ?
		WHERE id = ? AND current_usage < usage_limit`,
		time.Now().UTC().Format(time.RFC3339),
		cardID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply card usage: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check card usage update: %w", err)
	}
	if affected == 0 {
		// Either the card is gone or another approval won the last slot.
		if _, getErr := db.GetCard(cardID); getErr != nil {
			return getErr
		}
		return ErrUsageLimitRaced
	}

	return nil
}

// ApplyCardCompletion persists the rating/transaction counters computed by
// the core's RecordCompletion transform.
func (db *DB) ApplyCardCompletion(cardID string, rating float64, totalTransactions int) error {
	result, err := db.conn.Exec(
		`UPDATE cards SET rating = ?, total_transactions = ?, updated_at = ?
		WHERE id = ?`,
		rating,
		totalTransactions,
		time.Now().UTC().Format(time.RFC3339),
		cardID,
	)
	if err != nil {
		return fmt.Errorf("failed to apply card completion: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check card completion update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// InsertTransaction inserts a new transaction record.
func (db *DB) InsertTransaction(txn models.Transaction) error {
	productJSON, err := json.Marshal(txn.Product)
	if err != nil {
		return fmt.Errorf("failed to serialize product: %w", err)
	}

	_, err = db.conn.Exec(
		`INSERT INTO transactions (
			id, buyer_id, card_owner_id, card_id, product,
			discount_amount, service_fee, owner_earnings, status, requested_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID,
		txn.BuyerID,
		txn.CardOwnerID,
		txn.CardID,
		string(productJSON),
		txn.DiscountAmount,
		txn.ServiceFee,
		txn.OwnerEarnings,
		txn.Status,
		txn.RequestedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
	}

	return nil
}

// GetTransaction returns a single transaction by id.
func (db *DB) GetTransaction(txnID string) (models.Transaction, error) {
	query := `SELECT id, buyer_id, card_owner_id, card_id, product,
		discount_amount, service_fee, owner_earnings, status,
		requested_at, approved_at, completed_at, rating, review
		FROM transactions WHERE id = ?`

	txn, err := scanTransaction(db.conn.QueryRow(query, txnID))
	if err == sql.ErrNoRows {
		return models.Transaction{}, ErrNotFound
	}
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to get transaction: %w", err)
	}

	return txn, nil
}

// ListTransactionsByUser returns transactions where the user is the buyer or
// the card owner, newest first.
func (db *DB) ListTransactionsByUser(userID, role string) ([]models.Transaction, error) {
	column := "buyer_id"
	if role == "card_owner" {
		column = "card_owner_id"
	}

	query := fmt.Sprintf(`SELECT id, buyer_id, card_owner_id, card_id, product,
		discount_amount, service_fee, owner_earnings, status,
		requested_at, approved_at, completed_at, rating, review
		FROM transactions WHERE %s = ? ORDER BY requested_at DESC`, column)

	rows, err := db.conn.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return txns, nil
}

// CountTransactionsByOwner returns the owner's completed and total
// transaction counts, for success-rate prediction.
func (db *DB) CountTransactionsByOwner(ownerID string) (completed, total int, err error) {
	err = db.conn.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		FROM transactions WHERE card_owner_id = ?`,
		models.StatusCompleted,
		ownerID,
	).Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count owner transactions: %w", err)
	}

	return completed, total, nil
}

// UpdateTransactionStatus moves a transaction to a new status and stamps the
// matching lifecycle timestamp. Rating and review are only written for
// completions.
func (db *DB) UpdateTransactionStatus(txnID, status string, at time.Time, rating float64, review string) error {
	var query string
	args := []interface{}{status}

	switch status {
	case models.StatusApproved:
		query = `UPDATE transactions SET status = ?, approved_at = ? WHERE id = ?`
		args = append(args, at.Format(time.RFC3339), txnID)
	case models.StatusCompleted:
		query = `UPDATE transactions SET status = ?, completed_at = ?, rating = ?, review = ? WHERE id = ?`
		args = append(args, at.Format(time.RFC3339), rating, review, txnID)
	default:
		query = `UPDATE transactions SET status = ? WHERE id = ?`
		args = append(args, txnID)
	}

	result, err := db.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transaction update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// scannable covers *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(row scannable) (models.Transaction, error) {
	var txn models.Transaction
	var productJSON, requestedAtStr string
	var approvedAtStr, completedAtStr, review sql.NullString
	var rating sql.NullFloat64

	err := row.Scan(
		&txn.ID,
		&txn.BuyerID,
		&txn.CardOwnerID,
		&txn.CardID,
		&productJSON,
		&txn.DiscountAmount,
		&txn.ServiceFee,
		&txn.OwnerEarnings,
		&txn.Status,
		&requestedAtStr,
		&approvedAtStr,
		&completedAtStr,
		&rating,
		&review,
	)
	if err != nil {
		return models.Transaction{}, err
	}

	if err := json.Unmarshal([]byte(productJSON), &txn.Product); err != nil {
		return models.Transaction{}, fmt.Errorf("failed to deserialize product: %w", err)
	}

	txn.RequestedAt, err = time.Parse(time.RFC3339, requestedAtStr)
	if err != nil {
		return models.Transaction{}, fmt.Errorf("failed to parse requested_at: %w", err)
	}

	if approvedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, approvedAtStr.String)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("failed to parse approved_at: %w", err)
		}
		txn.ApprovedAt = &t
	}

	if completedAtStr.Valid {
		t, err := time.Parse(time.RFC3339, completedAtStr.String)
		if err != nil {
			return models.Transaction{}, fmt.Errorf("failed to parse completed_at: %w", err)
		}
		txn.CompletedAt = &t
	}

	if rating.Valid {
		txn.Rating = rating.Float64
	}
	if review.Valid {
		txn.Review = review.String
	}

	return txn, nil
}

// serializeDiscounts converts a discount list to its JSON column form.
func serializeDiscounts(discounts []models.Discount) (string, error) {
	if len(discounts) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(discounts)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// deserializeDiscounts converts a JSON column back to a discount list.
func deserializeDiscounts(serialized string) ([]models.Discount, error) {
	if serialized == "" || serialized == "[]" {
		return []models.Discount{}, nil
	}

	var result []models.Discount
	if err := json.Unmarshal([]byte(serialized), &result); err != nil {
		return nil, err
	}
	return result, nil
}
