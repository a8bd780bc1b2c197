package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/schema"
)

// documentRow is the storage row for a live document. The JSON body carries
// the full document including meta fields; the indexed columns exist for
// scoping and conflict detection only.
type documentRow struct {
	Tenant    string `gorm:"primaryKey;size:128"`
	Model     string `gorm:"primaryKey;size:128"`
	ID        string `gorm:"primaryKey;size:128"`
	Data      []byte `gorm:"type:jsonb"`
	UpdatedAt time.Time
}

func (documentRow) TableName() string { return "documents" }

// historyRow is one immutable version snapshot.
type historyRow struct {
	Tenant    string `gorm:"primaryKey;size:128"`
	Model     string `gorm:"primaryKey;size:128"`
	DocID     string `gorm:"primaryKey;size:128"`
	Version   int64  `gorm:"primaryKey"`
	Data      []byte `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (historyRow) TableName() string { return "document_history" }

// PGStore is the postgres DatabaseBinding and HistoryProvider. Filtering,
// sorting and pagination run client side over the decoded documents so the
// semantics match the other drivers exactly.
type PGStore struct {
	db *gorm.DB
}

// NewPGStore connects, configures the pool and runs the migrations.
func NewPGStore(dsn string) (*PGStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SetMaxIdleConns sets the maximum number of connections in the idle connection pool.
	sqlDB.SetMaxIdleConns(10)
	// SetMaxOpenConns sets the maximum number of open connections to the database.
	sqlDB.SetMaxOpenConns(100)
	// SetConnMaxLifetime sets the maximum amount of time a connection may be reused.
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&documentRow{}, &historyRow{}); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &PGStore{db: db}, nil
}

func (s *PGStore) Create(ctx context.Context, tenant, model string, doc map[string]any) error {
	id, err := docID(doc)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	row := documentRow{Tenant: tenant, Model: model, ID: id, Data: data}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrExists
		}
		return err
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, tenant, model, id string) (map[string]any, error) {
	var row documentRow
	err := s.db.WithContext(ctx).
		Where("tenant = ? AND model = ? AND id = ?", tenant, model, id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var doc map[string]any
	if err := json.Unmarshal(row.Data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", id, err)
	}
	return doc, nil
}

func (s *PGStore) Update(ctx context.Context, tenant, model, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	res := s.db.WithContext(ctx).
		Model(&documentRow{}).
		Where("tenant = ? AND model = ? AND id = ?", tenant, model, id).
		Update("data", data)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) Delete(ctx context.Context, tenant, model, id string) error {
	res := s.db.WithContext(ctx).
		Where("tenant = ? AND model = ? AND id = ?", tenant, model, id).
		Delete(&documentRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) List(ctx context.Context, tenant, model string, opts ListOptions) (Page, error) {
	docs, err := s.scan(ctx, tenant, model)
	if err != nil {
		return Page{}, err
	}
	return applyQuery(docs, opts), nil
}

func (s *PGStore) Count(ctx context.Context, tenant, model string, filter query.Filter) (int, error) {
	docs, err := s.scan(ctx, tenant, model)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, doc := range docs {
		if includeDoc(doc, ListOptions{Filter: filter}) {
			count++
		}
	}
	return count, nil
}

func (s *PGStore) Search(ctx context.Context, tenant, model, q string, fields []string, opts ListOptions) (Page, error) {
	docs, err := s.scan(ctx, tenant, model)
	if err != nil {
		return Page{}, err
	}

	matched := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		if matchesSearch(doc, q, fields) {
			matched = append(matched, doc)
		}
	}
	return applyQuery(matched, opts), nil
}

func (s *PGStore) Snapshot(ctx context.Context, tenant, model, id string, doc map[string]any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	version, _ := doc[schema.MetaVersion].(float64)

	row := historyRow{Tenant: tenant, Model: model, DocID: id, Version: int64(version), Data: data}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *PGStore) History(ctx context.Context, tenant, model, id string) ([]map[string]any, error) {
	var rows []historyRow
	err := s.db.WithContext(ctx).
		Where("tenant = ? AND model = ? AND doc_id = ?", tenant, model, id).
		Order("version ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		var doc map[string]any
		if err := json.Unmarshal(row.Data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot %d: %w", row.Version, err)
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *PGStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PGStore) scan(ctx context.Context, tenant, model string) ([]map[string]any, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("tenant = ? AND model = ?", tenant, model).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		var doc map[string]any
		if err := json.Unmarshal(row.Data, &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", row.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
