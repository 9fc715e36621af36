package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/aegisshield/citation-engine/internal/apperror"
)

// Store groups the repositories that share one database handle. A Store
// created inside WithTx is bound to that transaction.
type Store struct {
	db *gorm.DB

	Rules     *RuleRepository
	Citations *CitationRepository
	Contests  *ContestRepository
	Sequences *SequenceRepository
	Registry  *RegistryRepository
}

// NewStore creates a store over db
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:        db,
		Rules:     &RuleRepository{db: db},
		Citations: &CitationRepository{db: db},
		Contests:  &ContestRepository{db: db},
		Sequences: &SequenceRepository{db: db},
		Registry:  &RegistryRepository{db: db},
	}
}

// DB returns the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}

// notFoundOr maps gorm.ErrRecordNotFound onto a NotFound domain error and
// leaves other errors untouched
func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.NotFound(format, args...)
	}
	return err
}
