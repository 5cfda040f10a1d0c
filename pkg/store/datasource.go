package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartbi/analyst/pkg/enginerr"
	"github.com/smartbi/analyst/pkg/models"
)

// DatasourceStore registers database connection targets. Names are
// unique and at most one datasource is the default; putting a new
// default demotes the previous one.
type DatasourceStore struct {
	mu   sync.RWMutex
	byID map[string]*models.Datasource
}

// NewDatasourceStore creates an empty store.
func NewDatasourceStore() *DatasourceStore {
	return &DatasourceStore{byID: make(map[string]*models.Datasource)}
}

// Seed loads the configured datasources, assigning ids where absent.
func (s *DatasourceStore) Seed(datasources []models.Datasource) error {
	for i := range datasources {
		if _, err := s.Put(datasources[i]); err != nil {
			return err
		}
	}
	return nil
}

// Put inserts or replaces a datasource. A blank id allocates one; a
// blank status defaults to active. Returns the stored copy.
func (s *DatasourceStore) Put(ds models.Datasource) (models.Datasource, error) {
	if strings.TrimSpace(ds.Name) == "" {
		return models.Datasource{}, enginerr.New(enginerr.KindValidation, "datasource name is required")
	}
	if ds.Type == "" {
		return models.Datasource{}, enginerr.New(enginerr.KindValidation, "datasource type is required")
	}
	if ds.ID == "" {
		ds.ID = uuid.NewString()
	}
	if ds.Status == "" {
		ds.Status = models.DatasourceActive
	}
	ds.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.byID {
		if id != ds.ID && existing.Name == ds.Name {
			return models.Datasource{}, enginerr.New(enginerr.KindConflict,
				"datasource name %q already in use by %s", ds.Name, id)
		}
	}
	if ds.IsDefault {
		for _, existing := range s.byID {
			if existing.ID != ds.ID {
				existing.IsDefault = false
			}
		}
	}
	stored := ds
	s.byID[ds.ID] = &stored
	return ds, nil
}

// Get returns the datasource by id.
func (s *DatasourceStore) Get(id string) (models.Datasource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.byID[id]
	if !ok {
		return models.Datasource{}, enginerr.New(enginerr.KindNotFound, "datasource %s not found", id)
	}
	return *ds, nil
}

// GetByName returns the datasource by its unique name.
func (s *DatasourceStore) GetByName(name string) (models.Datasource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ds := range s.byID {
		if ds.Name == name {
			return *ds, nil
		}
	}
	return models.Datasource{}, enginerr.New(enginerr.KindNotFound, "datasource %q not found", name)
}

// Default returns the datasource flagged is_default.
func (s *DatasourceStore) Default() (models.Datasource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ds := range s.byID {
		if ds.IsDefault {
			return *ds, nil
		}
	}
	return models.Datasource{}, enginerr.New(enginerr.KindNotFound, "no default datasource configured")
}

// List returns all datasources sorted by name.
func (s *DatasourceStore) List() []models.Datasource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Datasource, 0, len(s.byID))
	for _, ds := range s.byID {
		out = append(out, *ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetStatus moves the datasource between active/inactive/error.
func (s *DatasourceStore) SetStatus(id string, status models.DatasourceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ds, ok := s.byID[id]
	if !ok {
		return enginerr.New(enginerr.KindNotFound, "datasource %s not found", id)
	}
	ds.Status = status
	ds.UpdatedAt = time.Now().UTC()
	return nil
}

// TouchLastUsed stamps the datasource's last_used_at.
func (s *DatasourceStore) TouchLastUsed(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ds, ok := s.byID[id]; ok {
		now := time.Now().UTC()
		ds.LastUsedAt = &now
	}
}

// Delete removes the datasource.
func (s *DatasourceStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return enginerr.New(enginerr.KindNotFound, "datasource %s not found", id)
	}
	delete(s.byID, id)
	return nil
}
