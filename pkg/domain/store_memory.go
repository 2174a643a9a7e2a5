package domain

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// memoryStore is a domain store that keeps the whole forest in memory
// NOTE: used for testing and for embedded deployments that can afford
// to lose the tree on restart
type memoryStore struct {
	idCounter uint32
	domains   map[uint32]Domain

	sync.RWMutex
}

// NewMemoryStore returns an initialized domain store
// that stores everything in memory
func NewMemoryStore() (Store, error) {
	s := &memoryStore{
		idCounter: 0,
		domains:   make(map[uint32]Domain),
	}

	return s, nil
}

func (s *memoryStore) newID() uint32 {
	return atomic.AddUint32(&s.idCounter, 1)
}

// CreateDomain stores a new domain and returns it with the assigned id
func (s *memoryStore) CreateDomain(ctx context.Context, d Domain) (Domain, error) {
	// if an id is not 0, then it's not considered as new
	if d.ID != 0 {
		return d, ErrNonZeroID
	}

	d.ID = s.newID()

	s.Lock()
	s.domains[d.ID] = d
	s.Unlock()

	return d, nil
}

// UpdateDomain updates the mutable part of an existing domain
func (s *memoryStore) UpdateDomain(ctx context.Context, d Domain) (Domain, error) {
	if d.ID == 0 {
		return d, ErrZeroDomainID
	}

	s.Lock()
	defer s.Unlock()

	stored, ok := s.domains[d.ID]
	if !ok {
		return d, ErrDomainNotFound
	}

	stored.Name = d.Name
	s.domains[d.ID] = stored

	return stored, nil
}

// MoveDomain reparents a stored domain and repairs every descendant
// path by replacing the old subtree prefix with the new one
func (s *memoryStore) MoveDomain(ctx context.Context, d Domain, oldPrefix, newPrefix string) error {
	if d.ID == 0 {
		return ErrZeroDomainID
	}

	s.Lock()
	defer s.Unlock()

	if _, ok := s.domains[d.ID]; !ok {
		return ErrDomainNotFound
	}

	// the moved node itself
	s.domains[d.ID] = d

	// the descendants follow by prefix substitution
	for id, n := range s.domains {
		if strings.HasPrefix(n.Path, oldPrefix) {
			n.Path = newPrefix + n.Path[len(oldPrefix):]
			s.domains[id] = n
		}
	}

	return nil
}

func (s *memoryStore) FetchDomainByID(ctx context.Context, id uint32) (d Domain, err error) {
	s.RLock()
	d, ok := s.domains[id]
	s.RUnlock()

	if !ok {
		return d, ErrDomainNotFound
	}

	return d, nil
}

func (s *memoryStore) FetchAllDomains(ctx context.Context) (ds []Domain, err error) {
	s.RLock()
	ds = make([]Domain, 0, len(s.domains))
	for _, d := range s.domains {
		ds = append(ds, d)
	}
	s.RUnlock()

	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Path != ds[j].Path {
			return ds[i].Path < ds[j].Path
		}

		return ds[i].ID < ds[j].ID
	})

	return ds, nil
}

// DeleteDomains removes a batch of domains, typically a whole subtree
func (s *memoryStore) DeleteDomains(ctx context.Context, ids []uint32) error {
	s.Lock()
	for _, id := range ids {
		delete(s.domains, id)
	}
	s.Unlock()

	return nil
}
