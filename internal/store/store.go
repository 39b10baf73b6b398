// Package store persists the IdMap, lastSyncTime, and encrypted credential
// record across runs, on top of the teacher's internal/database migration
// runner (numbered .sql files, schema_migrations tracking table).
package store

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/obsidian-gcal/syncengine/internal/database"
	"github.com/obsidian-gcal/syncengine/internal/model"
)

const (
	lastSyncTimeKey = "last_sync_time"
	redirectPortKey = "redirect_port"
)

// Store wraps the SQLite connection with the repository methods the sync
// engine needs. It also implements tokenstore.Backend.
type Store struct {
	db *database.DB
}

// Open connects to dbPath and applies pending migrations from
// migrationsDir.
func Open(dbPath, migrationsDir string) (*Store, error) {
	db, err := database.New(dbPath, migrationsDir)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadIdMap reads the full task->event mapping.
func (s *Store) LoadIdMap() (model.IdMap, error) {
	rows, err := s.db.Query(`SELECT task_id, event_id FROM id_map`)
	if err != nil {
		return nil, fmt.Errorf("store: querying id_map: %w", err)
	}
	defer rows.Close()

	idMap := model.IdMap{}
	for rows.Next() {
		var taskID, eventID string
		if err := rows.Scan(&taskID, &eventID); err != nil {
			return nil, fmt.Errorf("store: scanning id_map row: %w", err)
		}
		idMap[taskID] = eventID
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading id_map rows: %w", err)
	}
	return idMap, nil
}

// SaveIdMap replaces the persisted mapping with idMap in a single
// transaction.
func (s *Store) SaveIdMap(idMap model.IdMap) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: beginning id_map transaction: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM id_map`); err != nil {
		tx.Rollback()
		return fmt.Errorf("store: clearing id_map: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO id_map (task_id, event_id) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("store: preparing id_map insert: %w", err)
	}
	defer stmt.Close()

	for taskID, eventID := range idMap {
		if _, err := stmt.Exec(taskID, eventID); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: inserting id_map row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: committing id_map transaction: %w", err)
	}
	return nil
}

// LoadLastSyncTime returns the persisted RFC3339 timestamp, or "" if never
// set.
func (s *Store) LoadLastSyncTime() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, lastSyncTimeKey).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: reading last sync time: %w", err)
	}
	return value, nil
}

// SaveLastSyncTime persists value (expected RFC3339).
func (s *Store) SaveLastSyncTime(value string) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, lastSyncTimeKey, value)
	if err != nil {
		return fmt.Errorf("store: writing last sync time: %w", err)
	}
	return nil
}

// LoadRedirectPort returns the last port the loopback callback server bound
// to, or 0 if none has been persisted yet (the caller should fall back to
// its configured default).
func (s *Store) LoadRedirectPort() (int, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, redirectPortKey).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: reading redirect port: %w", err)
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("store: parsing persisted redirect port %q: %w", value, err)
	}
	return port, nil
}

// SaveRedirectPort persists port so the next authorization attempt starts
// from wherever the callback server last ended up, instead of retrying the
// configured default and advancing past it again.
func (s *Store) SaveRedirectPort(port int) error {
	_, err := s.db.Exec(`
		INSERT INTO sync_state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, redirectPortKey, strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("store: writing redirect port: %w", err)
	}
	return nil
}

// --- tokenstore.Backend ---

// Salt returns the per-install salt, generating and persisting a fresh one
// on first use.
func (s *Store) Salt() ([]byte, error) {
	var salt []byte
	err := s.db.QueryRow(`SELECT salt FROM credential_record WHERE id = 1`).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("store: reading salt: %w", err)
	}

	salt = make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("store: generating salt: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO credential_record (id, salt, encoded_refresh_token) VALUES (1, ?, '')`, salt)
	if err != nil {
		return nil, fmt.Errorf("store: persisting salt: %w", err)
	}
	return salt, nil
}

// ReadRecord returns the encoded refresh token blob and metadata, if any.
func (s *Store) ReadRecord() (string, []byte, bool, error) {
	var encoded string
	var meta []byte
	err := s.db.QueryRow(`SELECT encoded_refresh_token, meta FROM credential_record WHERE id = 1`).Scan(&encoded, &meta)
	if err == sql.ErrNoRows || (err == nil && encoded == "") {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("store: reading credential record: %w", err)
	}
	return encoded, meta, true, nil
}

// WriteRecord persists the encoded refresh token blob and metadata,
// creating the salt row first if it does not exist yet.
func (s *Store) WriteRecord(encoded string, meta []byte) error {
	if _, err := s.Salt(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		UPDATE credential_record SET encoded_refresh_token = ?, meta = ? WHERE id = 1
	`, encoded, meta)
	if err != nil {
		return fmt.Errorf("store: writing credential record: %w", err)
	}
	return nil
}
