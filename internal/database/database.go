package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"onionchat/internal/migrations"
	"onionchat/internal/models"
	"onionchat/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database holds client-local state: the outbox of rejected sends and the
// per-contact read markers. Message history itself lives in the daemon.
type Database struct {
	db        *sql.DB
	encryptor *encryptor
}

func New(dbPath string) (*Database, error) {
	if err := security.ValidateFilePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(dbPath, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to ping database: %w", err))
	}

	if _, err := migrations.Apply(context.Background(), db); err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize schema: %w", err))
	}

	encryptor, err := NewEncryptor()
	if err != nil {
		return nil, closeWith(db, fmt.Errorf("failed to initialize encryptor: %w", err))
	}

	return &Database{db: db, encryptor: encryptor}, nil
}

func closeWith(db *sql.DB, err error) error {
	if closeErr := db.Close(); closeErr != nil {
		return fmt.Errorf("%w (close error: %v)", err, closeErr)
	}
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// HealthCheck pings the database.
func (d *Database) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SaveFailedSend inserts or updates an outbox entry keyed by its local ref.
func (d *Database) SaveFailedSend(ctx context.Context, send *models.FailedSend) error {
	if send == nil || send.LocalRef == "" {
		return fmt.Errorf("failed send must have a local ref")
	}

	contactID, err := d.encryptor.Encrypt(send.ContactID)
	if err != nil {
		return fmt.Errorf("failed to encrypt contact: %w", err)
	}
	text, err := d.encryptor.Encrypt(send.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt text: %w", err)
	}
	path, err := d.encryptor.Encrypt(send.AttachmentPath)
	if err != nil {
		return fmt.Errorf("failed to encrypt attachment path: %w", err)
	}

	attempts := send.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertFailedSendQuery,
			send.LocalRef,
			d.encryptor.LookupKey(send.ContactID),
			contactID,
			string(send.Kind),
			text,
			path,
			send.Error,
			send.Timestamp,
			attempts,
			send.BaselineID,
		)
		return err
	}, "save failed send")
}

// GetFailedSend returns the outbox entry for localRef, or nil when there is none.
func (d *Database) GetFailedSend(ctx context.Context, localRef string) (*models.FailedSend, error) {
	row := d.db.QueryRowContext(ctx, SelectFailedSendQuery, localRef)

	send, err := d.scanFailedSend(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failed send: %w", err)
	}
	return send, nil
}

// ListFailedSends returns the outbox entries of a contact, oldest first.
func (d *Database) ListFailedSends(ctx context.Context, contactID string) ([]models.FailedSend, error) {
	rows, err := d.db.QueryContext(ctx, SelectFailedSendsByContactQuery, d.encryptor.LookupKey(contactID))
	if err != nil {
		return nil, fmt.Errorf("failed to list failed sends: %w", err)
	}
	defer rows.Close()

	var out []models.FailedSend
	for rows.Next() {
		send, err := d.scanFailedSend(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan failed send: %w", err)
		}
		out = append(out, *send)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failed sends: %w", err)
	}
	return out, nil
}

// DeleteFailedSend removes an outbox entry. Deleting a missing entry is not an error.
func (d *Database) DeleteFailedSend(ctx context.Context, localRef string) error {
	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, DeleteFailedSendQuery, localRef)
		return err
	}, "delete failed send")
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func (d *Database) scanFailedSend(row scanner) (*models.FailedSend, error) {
	var (
		send                  models.FailedSend
		kind                  string
		contactID, text, path string
	)
	if err := row.Scan(
		&send.LocalRef,
		&contactID,
		&kind,
		&text,
		&path,
		&send.Error,
		&send.Timestamp,
		&send.Attempts,
		&send.BaselineID,
		&send.CreatedAt,
		&send.UpdatedAt,
	); err != nil {
		return nil, err
	}
	send.Kind = models.SendKind(kind)

	var err error
	if send.ContactID, err = d.encryptor.Decrypt(contactID); err != nil {
		return nil, fmt.Errorf("failed to decrypt contact: %w", err)
	}
	if send.Text, err = d.encryptor.Decrypt(text); err != nil {
		return nil, fmt.Errorf("failed to decrypt text: %w", err)
	}
	if send.AttachmentPath, err = d.encryptor.Decrypt(path); err != nil {
		return nil, fmt.Errorf("failed to decrypt attachment path: %w", err)
	}
	return &send, nil
}

// SaveReadMarker records lastSeenID for a contact. Markers never move backwards.
func (d *Database) SaveReadMarker(ctx context.Context, contactID string, lastSeenID int64) error {
	encrypted, err := d.encryptor.Encrypt(contactID)
	if err != nil {
		return fmt.Errorf("failed to encrypt contact: %w", err)
	}

	return retryableDBOperationNoReturn(ctx, func() error {
		_, err := d.db.ExecContext(ctx, UpsertReadMarkerQuery, d.encryptor.LookupKey(contactID), encrypted, lastSeenID)
		return err
	}, "save read marker")
}

// GetReadMarker returns the last seen id of a contact, 0 when unknown.
func (d *Database) GetReadMarker(ctx context.Context, contactID string) (int64, error) {
	var lastSeen int64
	err := d.db.QueryRowContext(ctx, SelectReadMarkerQuery, d.encryptor.LookupKey(contactID)).Scan(&lastSeen)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get read marker: %w", err)
	}
	return lastSeen, nil
}

// CleanupOldRecords deletes outbox entries and read markers not touched in
// retentionDays and returns how many rows went.
func (d *Database) CleanupOldRecords(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	var total int64
	for _, query := range []string{DeleteOldFailedSendsQuery, DeleteOldReadMarkersQuery} {
		err := retryableDBOperationNoReturn(ctx, func() error {
			res, err := d.db.ExecContext(ctx, query, retentionDays)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
			return nil
		}, "cleanup old records")
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
