package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/statement-import/internal/domain"
	"github.com/dvloznov/statement-import/internal/importer"
)

// Store is an in-memory UploadStore.
// It is safe for concurrent use and never shares memory with callers.
// Data is lost on restart; use the sqlite or bigquery store for persistence.
type Store struct {
	mu      sync.RWMutex
	uploads map[string]*domain.StatementUpload
}

var _ importer.UploadStore = (*Store)(nil)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		uploads: make(map[string]*domain.StatementUpload),
	}
}

// GetByID implements importer.UploadStore.
func (s *Store) GetByID(ctx context.Context, uploadID, userID string) (*domain.StatementUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[uploadID]
	if !ok || u.UserID != userID {
		return nil, &domain.NotFoundError{Kind: "upload", ID: uploadID}
	}
	return u.Clone(), nil
}

// GetByIDWithTransactions implements importer.UploadStore.
func (s *Store) GetByIDWithTransactions(ctx context.Context, uploadID string) (*domain.StatementUpload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.uploads[uploadID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "upload", ID: uploadID}
	}
	return u.Clone(), nil
}

// GetByUserID implements importer.UploadStore.
func (s *Store) GetByUserID(ctx context.Context, userID string) ([]domain.UploadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.UploadSummary
	for _, u := range s.uploads {
		if u.UserID == userID {
			result = append(result, u.Summary())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].UploadedAt.Equal(result[j].UploadedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].UploadedAt.After(result[j].UploadedAt)
	})
	return result, nil
}

// Save implements importer.UploadStore. The caller's upload gets the new
// version on success.
func (s *Store) Save(ctx context.Context, upload *domain.StatementUpload) error {
	if upload.ID == "" {
		return fmt.Errorf("upload ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var stored int64
	if existing, ok := s.uploads[upload.ID]; ok {
		stored = existing.Version
	}
	if stored != upload.Version {
		return fmt.Errorf("upload %s at version %d, have %d: %w",
			upload.ID, stored, upload.Version, domain.ErrConcurrentModification)
	}

	upload.Version++
	s.uploads[upload.ID] = upload.Clone()
	return nil
}

// Len returns the number of stored uploads.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}
