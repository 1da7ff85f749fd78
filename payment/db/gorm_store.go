package db

import (
	"context"
	"errors"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mysqlDuplicateEntry = 1062

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, m *PaymentMessage) error {
	err := s.db.WithContext(ctx).Create(m).Error
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) ByID(ctx context.Context, id string) (*PaymentMessage, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormStore) ByAddress(ctx context.Context, address string) (*PaymentMessage, error) {
	return s.first(ctx, "address = ?", address)
}

func (s *GormStore) first(ctx context.Context, query string, arg string) (*PaymentMessage, error) {
	var m PaymentMessage
	err := s.db.WithContext(ctx).Where(query, arg).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Update locks the row with SELECT ... FOR UPDATE for the duration of fn.
func (s *GormStore) Update(ctx context.Context, id string, fn func(m *PaymentMessage) error) (*PaymentMessage, error) {
	var out PaymentMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m PaymentMessage
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if err := fn(&m); err != nil {
			return err
		}
		m.ID = id

		if err := tx.Save(&m).Error; err != nil {
			return err
		}
		out = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListStuck(ctx context.Context, limit int) ([]PaymentMessage, error) {
	var list []PaymentMessage
	err := s.db.WithContext(ctx).
		Where("payment_status = ? AND message_status = ? AND carrier_message_id = ?", PaymentPaid, MessageUnsent, "").
		Order("updated_at").
		Limit(limit).
		Find(&list).Error
	return list, err
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
