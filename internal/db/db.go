// Package db persists scan sessions, frame outcomes and link statistics
// to a local sqlite database. Schema changes are managed with file-based
// migrations, see the migrations/ directory.
package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kestrel-data/detector.link/internal/axistream"
)

type DB struct {
	*sql.DB
}

// NewDB opens (or creates) the sqlite database at path. The schema is not
// applied here; call MigrateUp before first use.
func NewDB(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// sqlite allows one writer; WAL plus a busy timeout keeps the recorder
	// and the HTTP readers from tripping over each other.
	_, err = sqlDB.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	return &DB{sqlDB}, nil
}

// FrameStatus records how a frame came out of reassembly.
type FrameStatus string

const (
	FrameComplete   FrameStatus = "complete"
	FrameIncomplete FrameStatus = "incomplete"
	FrameRecovered  FrameStatus = "recovered"
)

// FrameRecord is one reassembled (or expired) frame as stored in the
// frames table.
type FrameRecord struct {
	FrameID        uint32
	Status         FrameStatus
	Rows           uint16
	Cols           uint16
	PixelCount     int
	MissingPackets int
	StallCycles    uint64
	TransferCycles uint64
	MeanValue      float64
	MaxValue       int64
}

// StartSession creates a scan session row and returns its id.
func (db *DB) StartSession(mode string, rows, cols int, notes string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO scan_sessions (id, mode, rows, cols, notes) VALUES (?, ?, ?, ?, ?)`,
		id, mode, rows, cols, notes,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert scan session: %w", err)
	}
	return id, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(sessionID string) error {
	res, err := db.Exec(
		`UPDATE scan_sessions SET ended_at = CURRENT_TIMESTAMP WHERE id = ?`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("failed to end scan session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("no scan session with id %s", sessionID)
	}
	return nil
}

// RecordFrame stores one frame outcome against a session.
func (db *DB) RecordFrame(sessionID string, rec FrameRecord) error {
	_, err := db.Exec(
		`INSERT INTO frames (
			session_id, frame_id, status, rows, cols, pixel_count,
			missing_packets, stall_cycles, transfer_cycles, mean_value, max_value
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, rec.FrameID, string(rec.Status), rec.Rows, rec.Cols, rec.PixelCount,
		rec.MissingPackets, rec.StallCycles, rec.TransferCycles, rec.MeanValue, rec.MaxValue,
	)
	if err != nil {
		return fmt.Errorf("failed to insert frame: %w", err)
	}
	return nil
}

// SessionFrames returns the recorded frames for a session, oldest first.
func (db *DB) SessionFrames(sessionID string) ([]FrameRecord, error) {
	rows, err := db.Query(
		`SELECT frame_id, status, rows, cols, pixel_count, missing_packets,
			stall_cycles, transfer_cycles, mean_value, max_value
		FROM frames WHERE session_id = ? ORDER BY recorded_at, frame_id`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FrameRecord
	for rows.Next() {
		var rec FrameRecord
		var status string
		if err := rows.Scan(
			&rec.FrameID, &status, &rec.Rows, &rec.Cols, &rec.PixelCount,
			&rec.MissingPackets, &rec.StallCycles, &rec.TransferCycles,
			&rec.MeanValue, &rec.MaxValue,
		); err != nil {
			return nil, err
		}
		rec.Status = FrameStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SessionCompleteness reports frame counts by status for a session.
func (db *DB) SessionCompleteness(sessionID string) (map[FrameStatus]int, error) {
	rows, err := db.Query(
		`SELECT status, COUNT(*) FROM frames WHERE session_id = ? GROUP BY status`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[FrameStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[FrameStatus(status)] = n
	}
	return out, rows.Err()
}

// RecordLinkStats snapshots the flow-model counters for a session.
func (db *DB) RecordLinkStats(sessionID string, stats axistream.Stats) error {
	_, err := db.Exec(
		`INSERT INTO link_stats (
			session_id, total_cycles, stall_cycles, bytes_transferred, fifo_level
		) VALUES (?, ?, ?, ?, ?)`,
		sessionID, stats.TotalCycles, stats.TotalStallCycles,
		stats.TotalBytesTransferred, stats.FifoLevel,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link stats: %w", err)
	}
	return nil
}

// LinkStatsSince returns link snapshots for a session recorded at or after
// the given time, oldest first.
func (db *DB) LinkStatsSince(sessionID string, since time.Time) ([]axistream.Stats, error) {
	rows, err := db.Query(
		`SELECT total_cycles, stall_cycles, bytes_transferred, fifo_level
		FROM link_stats
		WHERE session_id = ? AND recorded_at >= ?
		ORDER BY recorded_at`,
		sessionID, since.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []axistream.Stats
	for rows.Next() {
		var s axistream.Stats
		if err := rows.Scan(&s.TotalCycles, &s.TotalStallCycles,
			&s.TotalBytesTransferred, &s.FifoLevel); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
