package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/fichabot/internal/domain"
)

// ErrNoCredentials is returned when a user has never stored credentials.
var ErrNoCredentials = errors.New("no credentials stored for user")

// CredentialStore persists per-user timesheet credentials.
type CredentialStore struct {
	db *DB
}

// NewCredentialStore creates a credential store using the given database.
func NewCredentialStore(db *DB) *CredentialStore {
	return &CredentialStore{db: db}
}

// Get returns the stored credentials for a user.
func (s *CredentialStore) Get(userID string) (domain.Credentials, error) {
	var creds domain.Credentials
	err := s.db.sql.QueryRow(
		`SELECT username, password FROM credentials WHERE user_id = ?`, userID,
	).Scan(&creds.Username, &creds.Password)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Credentials{}, ErrNoCredentials
	}
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("loading credentials: %w", err)
	}
	return creds, nil
}

// Set stores or replaces the credentials for a user.
func (s *CredentialStore) Set(userID string, creds domain.Credentials) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO credentials (user_id, username, password, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			password = excluded.password,
			updated_at = excluded.updated_at`,
		userID, creds.Username, creds.Password, time.Now().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("storing credentials: %w", err)
	}
	s.db.log.Info().Str("user", userID).Msg("credentials updated")
	return nil
}

// Delete removes a user's credentials.
func (s *CredentialStore) Delete(userID string) error {
	_, err := s.db.sql.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("deleting credentials: %w", err)
	}
	return nil
}
