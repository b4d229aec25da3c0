package registry

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"proxypool/internal/domain"
)

// Store is the durable side of the registry. Implementations must tolerate
// repeated writes for the same proxy.
type Store interface {
	LoadAll() ([]*domain.Proxy, error)
	SaveProxy(proxy *domain.Proxy) error
	DeleteProxy(id string) error
	UpdateStatus(id string, status domain.Status) error
}

const (
	storeRetryAttempts = 3
)

// GormStore persists the fleet through gorm. Every write retries with a
// bounded backoff; after that the error is returned and the caller decides
// whether it matters (admin ops surface it, the health path only logs).
type GormStore struct {
	db      *gorm.DB
	backoff time.Duration
}

func NewGormStore(db *gorm.DB, backoff time.Duration) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm store requires a database handle")
	}
	if backoff <= 0 {
		backoff = time.Second
	}

	if err := db.AutoMigrate(&domain.Proxy{}); err != nil {
		return nil, fmt.Errorf("migrate proxy schema: %w", err)
	}

	return &GormStore{db: db, backoff: backoff}, nil
}

func (s *GormStore) LoadAll() ([]*domain.Proxy, error) {
	var proxies []*domain.Proxy
	if err := s.db.Find(&proxies).Error; err != nil {
		return nil, fmt.Errorf("load proxies: %w", err)
	}
	return proxies, nil
}

func (s *GormStore) SaveProxy(proxy *domain.Proxy) error {
	record := proxy.Clone()
	return s.withRetry("save proxy", func() error {
		return s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(record).Error
	})
}

func (s *GormStore) DeleteProxy(id string) error {
	return s.withRetry("delete proxy", func() error {
		return s.db.Delete(&domain.Proxy{}, "id = ?", id).Error
	})
}

func (s *GormStore) UpdateStatus(id string, status domain.Status) error {
	return s.withRetry("update proxy status", func() error {
		return s.db.Model(&domain.Proxy{}).
			Where("id = ?", id).
			Update("status", status).Error
	})
}

func (s *GormStore) withRetry(op string, write func() error) error {
	var err error
	for attempt := 1; attempt <= storeRetryAttempts; attempt++ {
		if err = write(); err == nil {
			return nil
		}
		if attempt < storeRetryAttempts {
			log.Debug("store write failed, retrying", "op", op, "attempt", attempt, "error", err)
			time.Sleep(s.backoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("%s after %d attempts: %w", op, storeRetryAttempts, err)
}
