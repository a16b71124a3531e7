package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

var _ PayloadRecorder = (*SQLiteStore)(nil)

// RecordPayload stores one upstream response body gzip-compressed, keyed
// by a content hash so re-fetches of identical payloads are deduplicated.
func (s *SQLiteStore) RecordPayload(modelKey string, locationID int64, fetchedAt time.Time, body []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(body); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(body)
	_, err := s.db.Exec(`
		INSERT INTO raw_payloads (fetched_at, model_key, location_id, payload_hash, payload_gz)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(payload_hash) DO NOTHING
	`, fetchedAt.UTC(), modelKey, locationID, hex.EncodeToString(hash[:]), buf.Bytes())
	if err != nil {
		return fmt.Errorf("insert raw payload: %w", err)
	}
	return nil
}

// GetPayload retrieves and decompresses a stored payload by ID.
func (s *SQLiteStore) GetPayload(id int64) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_gz FROM raw_payloads WHERE id = ?`, id).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return io.ReadAll(gz)
}

func (s *SQLiteStore) DeletePayloadsBefore(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM raw_payloads WHERE fetched_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
