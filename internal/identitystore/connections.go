package identitystore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/umputun/sftpcloud/internal/identity"
)

// InsertConnection implements identity.Port. Called exactly once per
// session, when the SFTP subsystem becomes ready (spec.md §4.6).
func (s *Store) InsertConnection(ctx context.Context, conn *identity.Connection) (string, error) {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if err := s.db.WithContext(ctx).Create(conn).Error; err != nil {
		return "", err
	}
	return conn.ID, nil
}

// FinalizeConnection implements identity.Port. Called exactly once, even
// on abnormal termination (spec.md §3 invariant).
func (s *Store) FinalizeConnection(ctx context.Context, id string, endedAt time.Time, bytesUploaded, bytesDownloaded int64) error {
	result := s.db.WithContext(ctx).
		Model(&identity.Connection{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"ended_at":         endedAt,
			"active":           false,
			"bytes_uploaded":   bytesUploaded,
			"bytes_downloaded": bytesDownloaded,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return identity.ErrConnectionNotFound
	}
	return nil
}

// InsertTransfers implements identity.Port. An empty batch is a no-op —
// callers are not required to special-case it.
func (s *Store) InsertTransfers(ctx context.Context, transfers []identity.Transfer) error {
	if len(transfers) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(&transfers).Error
}
