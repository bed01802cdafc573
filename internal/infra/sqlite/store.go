// Package sqlite stores statement uploads in a local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cloud.google.com/go/civil"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// Store is an importer.UploadStore backed by SQLite.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

var _ importer.UploadStore = (*Store)(nil)

// Open opens (creating if needed) the database at path. Call Migrate before use.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("Open: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("Open: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("Open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("Open: ping: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

const selectUpload = `SELECT id, user_id, original_file_name, document_uri, uploaded_at, status,
	error_message, parsed_at, confirmed_at, updated_at, version
	FROM statement_uploads`

// GetByID implements importer.UploadStore.
func (s *Store) GetByID(ctx context.Context, uploadID, userID string) (*domain.StatementUpload, error) {
	row := s.db.QueryRowContext(ctx, selectUpload+` WHERE id = ? AND user_id = ?`, uploadID, userID)
	return s.load(ctx, uploadID, row)
}

// GetByIDWithTransactions implements importer.UploadStore.
func (s *Store) GetByIDWithTransactions(ctx context.Context, uploadID string) (*domain.StatementUpload, error) {
	row := s.db.QueryRowContext(ctx, selectUpload+` WHERE id = ?`, uploadID)
	return s.load(ctx, uploadID, row)
}

func (s *Store) load(ctx context.Context, uploadID string, row *sql.Row) (*domain.StatementUpload, error) {
	u, err := scanUpload(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.NotFoundError{Kind: "upload", ID: uploadID}
	}
	if err != nil {
		return nil, fmt.Errorf("load upload %s: %w", uploadID, err)
	}

	txs, err := s.transactions(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Transactions = txs
	return u, nil
}

// GetByUserID implements importer.UploadStore.
func (s *Store) GetByUserID(ctx context.Context, userID string) ([]domain.UploadSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.original_file_name, u.uploaded_at, u.status,
			(SELECT COUNT(*) FROM parsed_transactions t WHERE t.upload_id = u.id)
		FROM statement_uploads u
		WHERE u.user_id = ?
		ORDER BY u.uploaded_at DESC, u.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("GetByUserID: query: %w", err)
	}
	defer rows.Close()

	var result []domain.UploadSummary
	for rows.Next() {
		var (
			sum        domain.UploadSummary
			uploadedAt string
			status     string
		)
		if err := rows.Scan(&sum.ID, &sum.FileName, &uploadedAt, &status, &sum.TransactionCount); err != nil {
			return nil, fmt.Errorf("GetByUserID: scan: %w", err)
		}
		if sum.UploadedAt, err = parseTime(uploadedAt); err != nil {
			return nil, fmt.Errorf("GetByUserID: %w", err)
		}
		sum.Status = domain.Status(status)
		result = append(result, sum)
	}
	return result, rows.Err()
}

// Save implements importer.UploadStore. The upload row and its transactions
// are written in one SQL transaction guarded by the version column.
func (s *Store) Save(ctx context.Context, upload *domain.StatementUpload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Save: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	next := upload.Version + 1
	if upload.Version == 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO statement_uploads (id, user_id, original_file_name, document_uri, uploaded_at,
				status, error_message, parsed_at, confirmed_at, updated_at, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			upload.ID, upload.UserID, upload.OriginalFileName, upload.DocumentURI, formatTime(upload.UploadedAt),
			string(upload.Status), nullString(upload.ErrorMessage), nullTime(upload.ParsedAt),
			nullTime(upload.ConfirmedAt), formatTime(upload.UpdatedAt), next)
		if err != nil {
			// A primary key violation means someone else inserted first.
			var exists int
			if qErr := tx.QueryRowContext(ctx, `SELECT 1 FROM statement_uploads WHERE id = ?`, upload.ID).Scan(&exists); qErr == nil {
				return fmt.Errorf("Save: upload %s already exists: %w", upload.ID, domain.ErrConcurrentModification)
			}
			return fmt.Errorf("Save: insert upload: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE statement_uploads
			SET status = ?, error_message = ?, parsed_at = ?, confirmed_at = ?, updated_at = ?, version = ?
			WHERE id = ? AND version = ?`,
			string(upload.Status), nullString(upload.ErrorMessage), nullTime(upload.ParsedAt),
			nullTime(upload.ConfirmedAt), formatTime(upload.UpdatedAt), next,
			upload.ID, upload.Version)
		if err != nil {
			return fmt.Errorf("Save: update upload: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("Save: rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("Save: upload %s version %d: %w", upload.ID, upload.Version, domain.ErrConcurrentModification)
		}
	}

	if err := replaceTransactions(ctx, tx, upload); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Save: commit: %w", err)
	}

	upload.Version = next
	return nil
}

func replaceTransactions(ctx context.Context, tx *sql.Tx, upload *domain.StatementUpload) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM parsed_transactions WHERE upload_id = ?`, upload.ID); err != nil {
		return fmt.Errorf("Save: clear transactions: %w", err)
	}
	if len(upload.Transactions) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO parsed_transactions (upload_id, position, id, date, description, amount, currency,
			suggested_category_id, confirmed_category_id, original_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("Save: prepare: %w", err)
	}
	defer stmt.Close()

	for i, t := range upload.Transactions {
		var confirmed sql.NullString
		if t.ConfirmedCategoryID.Valid {
			confirmed = sql.NullString{String: string(t.ConfirmedCategoryID.CategoryID), Valid: true}
		}
		_, err := stmt.ExecContext(ctx, upload.ID, i, t.ID, t.Date.String(), t.Description, t.Amount.String(),
			t.Currency, string(t.SuggestedCategoryID), confirmed, nullString(t.OriginalText))
		if err != nil {
			return fmt.Errorf("Save: insert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) transactions(ctx context.Context, uploadID string) ([]domain.ParsedTransaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, description, amount, currency, suggested_category_id, confirmed_category_id, original_text
		FROM parsed_transactions WHERE upload_id = ? ORDER BY position`, uploadID)
	if err != nil {
		return nil, fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	var txs []domain.ParsedTransaction
	for rows.Next() {
		var (
			t                  domain.ParsedTransaction
			date, amount       string
			suggested          string
			confirmed, rawText sql.NullString
		)
		if err := rows.Scan(&t.ID, &date, &t.Description, &amount, &t.Currency, &suggested, &confirmed, &rawText); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = civil.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transaction %s date: %w", t.ID, err)
		}
		if t.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", t.ID, err)
		}
		t.SuggestedCategoryID = domain.CategoryID(suggested)
		if confirmed.Valid {
			t.ConfirmedCategoryID = domain.SomeCategory(domain.CategoryID(confirmed.String))
		}
		t.OriginalText = rawText.String
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

func scanUpload(row *sql.Row) (*domain.StatementUpload, error) {
	var (
		u                     domain.StatementUpload
		status                string
		uploadedAt, updatedAt string
		errMsg                sql.NullString
		parsedAt, confirmedAt sql.NullString
	)
	err := row.Scan(&u.ID, &u.UserID, &u.OriginalFileName, &u.DocumentURI, &uploadedAt, &status,
		&errMsg, &parsedAt, &confirmedAt, &updatedAt, &u.Version)
	if err != nil {
		return nil, err
	}

	u.Status = domain.Status(status)
	u.ErrorMessage = errMsg.String
	if u.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if u.ParsedAt, err = parseNullTime(parsedAt); err != nil {
		return nil, err
	}
	if u.ConfirmedAt, err = parseNullTime(confirmedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
