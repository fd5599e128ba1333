// Package repository provides a small generic gorm store used by services
// that do not need bespoke SQL.
package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repository is a minimal typed persistence interface.
type Repository[T any] interface {
	Create(ctx context.Context, record *T) error
	CreateTx(ctx context.Context, tx *gorm.DB, record *T) error
	Save(ctx context.Context, record *T) error
	First(ctx context.Context, conds ...any) (*T, error)
	Find(ctx context.Context, conds ...any) ([]T, error)
}

type store[T any] struct {
	db *gorm.DB
}

// ProvideStore builds a Repository bound to the shared connection.
func ProvideStore[T any](db *gorm.DB) Repository[T] {
	return &store[T]{db: db}
}

func (s *store[T]) Create(ctx context.Context, record *T) error {
	return s.db.WithContext(ctx).Create(record).Error
}

func (s *store[T]) CreateTx(ctx context.Context, tx *gorm.DB, record *T) error {
	if tx == nil {
		tx = s.db
	}
	return tx.WithContext(ctx).Create(record).Error
}

func (s *store[T]) Save(ctx context.Context, record *T) error {
	return s.db.WithContext(ctx).Save(record).Error
}

func (s *store[T]) First(ctx context.Context, conds ...any) (*T, error) {
	var record T
	err := s.db.WithContext(ctx).First(&record, conds...).Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *store[T]) Find(ctx context.Context, conds ...any) ([]T, error) {
	var records []T
	err := s.db.WithContext(ctx).Find(&records, conds...).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}
