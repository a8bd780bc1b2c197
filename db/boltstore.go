package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dot-do/gateway/db/bolt"
	"github.com/dot-do/gateway/query"
	"github.com/dot-do/gateway/schema"
)

// BoltStore is the file-backed DatabaseBinding and HistoryProvider, the
// default driver. Documents live in one bucket per tenant and model;
// history snapshots live in a parallel bucket keyed by id and version so a
// prefix scan returns them in version order.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the store file.
func NewBoltStore(path string) (*BoltStore, error) {
	database, err := bolt.Open(path)
	if err != nil {
		return nil, err
	}
	return &BoltStore{db: database}, nil
}

func docBucket(tenant, model string) string {
	return tenant + "/" + model
}

func historyBucket(tenant, model string) string {
	return tenant + "/" + model + "/$history"
}

func (s *BoltStore) Create(ctx context.Context, tenant, model string, doc map[string]any) error {
	id, err := docID(doc)
	if err != nil {
		return err
	}

	bucket := docBucket(tenant, model)
	exists, err := s.db.Has(bucket, id)
	if err != nil {
		return err
	}
	if exists {
		return ErrExists
	}
	return s.db.PutJSON(bucket, id, doc)
}

func (s *BoltStore) Get(ctx context.Context, tenant, model, id string) (map[string]any, error) {
	var doc map[string]any
	err := s.db.GetJSON(docBucket(tenant, model), id, &doc)
	if err != nil {
		if errors.Is(err, bolt.ErrKeyNotFound) || errors.Is(err, bolt.ErrBucketNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (s *BoltStore) Update(ctx context.Context, tenant, model, id string, doc map[string]any) error {
	bucket := docBucket(tenant, model)
	exists, err := s.db.Has(bucket, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.db.PutJSON(bucket, id, doc)
}

func (s *BoltStore) Delete(ctx context.Context, tenant, model, id string) error {
	bucket := docBucket(tenant, model)
	exists, err := s.db.Has(bucket, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return s.db.Delete(bucket, id)
}

func (s *BoltStore) List(ctx context.Context, tenant, model string, opts ListOptions) (Page, error) {
	docs, err := s.scan(tenant, model)
	if err != nil {
		return Page{}, err
	}
	return applyQuery(docs, opts), nil
}

func (s *BoltStore) Count(ctx context.Context, tenant, model string, filter query.Filter) (int, error) {
	count := 0
	err := s.db.ForEach(docBucket(tenant, model), func(k, v []byte) error {
		var doc map[string]any
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", k, err)
		}
		if includeDoc(doc, ListOptions{Filter: filter}) {
			count++
		}
		return nil
	})
	return count, err
}

func (s *BoltStore) Search(ctx context.Context, tenant, model, q string, fields []string, opts ListOptions) (Page, error) {
	docs, err := s.scan(tenant, model)
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

func (s *BoltStore) Snapshot(ctx context.Context, tenant, model, id string, doc map[string]any) error {
	version, _ := doc[schema.MetaVersion].(float64)
	key := fmt.Sprintf("%s/%010d", id, int64(version))
	return s.db.PutJSON(historyBucket(tenant, model), key, doc)
}

func (s *BoltStore) History(ctx context.Context, tenant, model, id string) ([]map[string]any, error) {
	var out []map[string]any
	err := s.db.Scan(historyBucket(tenant, model), id+"/", func(k, v []byte) error {
		var doc map[string]any
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal snapshot %s: %w", k, err)
		}
		out = append(out, doc)
		return nil
	})
	return out, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) scan(tenant, model string) ([]map[string]any, error) {
	var docs []map[string]any
	err := s.db.ForEach(docBucket(tenant, model), func(k, v []byte) error {
		var doc map[string]any
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", k, err)
		}
		docs = append(docs, doc)
		return nil
	})
	return docs, err
}
