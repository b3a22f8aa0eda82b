package channel

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for channel persistence operations.
type Repository interface {
	// GetByID returns ErrChannelNotFound if the channel does not exist.
	GetByID(ctx context.Context, bridgeID, id string) (*Channel, error)

	// List returns a bridge's channels ordered by id.
	List(ctx context.Context, bridgeID string) ([]Channel, error)

	// Create returns ErrChannelExists if the id is taken.
	Create(ctx context.Context, ch *Channel) error

	// Delete returns ErrChannelNotFound if the channel does not exist.
	Delete(ctx context.Context, bridgeID, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const selectColumns = `
		SELECT bridge_id, id, route, key_path, kind, label, description,
			category, pattern, created_at
		FROM channels`

// GetByID retrieves a channel by bridge and id.
func (r *SQLiteRepository) GetByID(ctx context.Context, bridgeID, id string) (*Channel, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE bridge_id = ? AND id = ?`, bridgeID, id)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("querying channel: %w", err)
	}
	return ch, nil
}

// List retrieves every channel of a bridge.
func (r *SQLiteRepository) List(ctx context.Context, bridgeID string) ([]Channel, error) {
	rows, err := r.db.QueryContext(ctx, selectColumns+` WHERE bridge_id = ? ORDER BY id`, bridgeID)
	if err != nil {
		return nil, fmt.Errorf("querying channels: %w", err)
	}
	defer rows.Close()

	var channels []Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channels: %w", err)
	}
	return channels, nil
}

// Create inserts a new channel.
func (r *SQLiteRepository) Create(ctx context.Context, ch *Channel) error {
	if err := ch.Validate(); err != nil {
		return err
	}

	keyPathJSON, err := json.Marshal(ch.KeyPath)
	if err != nil {
		return fmt.Errorf("marshalling key_path: %w", err)
	}

	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO channels (
			bridge_id, id, route, key_path, kind, label, description,
			category, pattern, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ch.BridgeID,
		ch.ID,
		ch.Route,
		string(keyPathJSON),
		ch.Kind,
		ch.Label,
		ch.Description,
		ch.Category,
		ch.Pattern,
		ch.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrChannelExists
		}
		return fmt.Errorf("inserting channel: %w", err)
	}
	return nil
}

// Delete removes a channel.
func (r *SQLiteRepository) Delete(ctx context.Context, bridgeID, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM channels WHERE bridge_id = ? AND id = ?", bridgeID, id)
	if err != nil {
		return fmt.Errorf("deleting channel: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrChannelNotFound
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(s rowScanner) (*Channel, error) {
	var (
		ch        Channel
		keyPath   string
		createdAt string
	)
	if err := s.Scan(
		&ch.BridgeID, &ch.ID, &ch.Route, &keyPath, &ch.Kind, &ch.Label,
		&ch.Description, &ch.Category, &ch.Pattern, &createdAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keyPath), &ch.KeyPath); err != nil {
		return nil, fmt.Errorf("unmarshalling key_path: %w", err)
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	ch.CreatedAt = t
	return &ch, nil
}

// isUniqueConstraintError checks if an error is a SQLite unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "unique constraint")
}
