package store

import (
	"time"
)

// AuditEntry is one processed message and its outcome.
type AuditEntry struct {
	ID        int64
	UserID    string
	Message   string
	Outcome   string
	Results   int
	CreatedAt time.Time
}

// AuditStore records every processed message for traceability.
type AuditStore struct {
	db *DB
}

// NewAuditStore creates an audit store using the given database.
func NewAuditStore(db *DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record appends one entry. Failures are logged, not returned: auditing
// never blocks message handling.
func (s *AuditStore) Record(userID, message, outcome string, results int) {
	_, err := s.db.sql.Exec(
		`INSERT INTO audit_log (user_id, message, outcome, results) VALUES (?, ?, ?, ?)`,
		userID, message, outcome, results,
	)
	if err != nil {
		s.db.log.Error().Err(err).Str("user", userID).Msg("failed to record audit entry")
	}
}

// Recent returns the latest entries for a user, newest first.
func (s *AuditStore) Recent(userID string, limit int) ([]AuditEntry, error) {
	rows, err := s.db.sql.Query(
		`SELECT id, user_id, message, outcome, results, created_at
		 FROM audit_log WHERE user_id = ? ORDER BY id DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Message, &e.Outcome, &e.Results, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
