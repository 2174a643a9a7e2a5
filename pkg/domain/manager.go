package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agubarev/dominion/pkg/util"
	"github.com/pkg/errors"
	"github.com/r3labs/diff"
	"go.uber.org/zap"
)

// errors
var (
	ErrNilDatabase      = errors.New("database is nil")
	ErrNilDomainStore   = errors.New("domain store is nil")
	ErrNilDomainManager = errors.New("domain manager is nil")
	ErrNilDomain        = errors.New("domain is nil")
	ErrNilRefCounter    = errors.New("domain reference counter is nil")
	ErrZeroDomainID     = errors.New("domain id is zero")
	ErrNonZeroID        = errors.New("domain id is not zero")
	ErrEmptyDomainName  = errors.New("empty domain name")
	ErrDomainNotFound   = errors.New("domain not found")
	ErrDuplicateDomain  = errors.New("duplicate domain")
	ErrInvalidHierarchy = errors.New("domain move creates a cycle")
	ErrNothingChanged   = errors.New("nothing changed")
	ErrForbiddenChange  = errors.New("domain id, parent or path is not allowed to change")
)

// DeleteBlockedError is returned when a domain subtree cannot be removed
// because external entities still reference at least one of its members
type DeleteBlockedError struct {
	DomainID uint32
	RefCount uint64
}

func (e *DeleteBlockedError) Error() string {
	return fmt.Sprintf("domain %d cannot be deleted: %d entities still reference its subtree", e.DomainID, e.RefCount)
}

// IsDeleteBlocked unwraps a given error down to a DeleteBlockedError
func IsDeleteBlocked(err error) (*DeleteBlockedError, bool) {
	be, ok := errors.Cause(err).(*DeleteBlockedError)
	return be, ok
}

// List is a typed slice of domains to make sorting easier
type List []Domain

// TreeNode is a nested projection of the domain forest
type TreeNode struct {
	ID       uint32      `json:"id"`
	Name     string      `json:"name"`
	Children []*TreeNode `json:"children"`
}

// Manager is the domain tree registry
// NOTE: reads are served from the in-memory registry and may run
// concurrently; mutations serialize behind the write lock so that
// a subtree path repair is never observable half-done
type Manager struct {
	domains  map[uint32]Domain
	store    Store
	refs     RefCounter
	revision uint64
	logger   *zap.Logger
	sync.RWMutex
}

// NewManager initializes a new domain manager
func NewManager(ctx context.Context, s Store, rc RefCounter) (*Manager, error) {
	if s == nil {
		return nil, ErrNilDomainStore
	}

	m := &Manager{
		domains: make(map[uint32]Domain),
		store:   s,
		refs:    rc,
	}

	if rc == nil {
		m.Logger().Info("domain reference counter is not set, deletion is disabled")
	}

	return m, m.Init(ctx)
}

// SetLogger assigns a logger for this manager
func (m *Manager) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[domain]")
	}

	m.logger = logger

	return nil
}

// Logger returns primary logger if is set, otherwise initializing and returning
func (m *Manager) Logger() *zap.Logger {
	if m.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(fmt.Errorf("failed to initialize domain manager logger: %s", err))
		}

		m.logger = l
	}

	return m.logger
}

// Store returns store if set
func (m *Manager) Store() (Store, error) {
	if m.store == nil {
		return nil, ErrNilDomainStore
	}

	return m.store, nil
}

// RefCounter returns the reference counter if set
func (m *Manager) RefCounter() (RefCounter, error) {
	if m.refs == nil {
		return nil, ErrNilRefCounter
	}

	return m.refs, nil
}

// Validate this domain manager
func (m *Manager) Validate() error {
	if m.domains == nil {
		return errors.New("domain registry is nil")
	}

	if m.store == nil {
		return ErrNilDomainStore
	}

	return nil
}

// Init fetches the whole stored forest into the registry
func (m *Manager) Init(ctx context.Context) error {
	if err := m.Validate(); err != nil {
		return err
	}

	ds, err := m.store.FetchAllDomains(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to fetch stored domains")
	}

	m.Lock()
	for _, d := range ds {
		d.calculateChecksum()
		m.domains[d.ID] = d
	}
	m.Unlock()

	m.Logger().Info("initialized domain registry", zap.Int("domains_found", len(ds)))

	return nil
}

// TreeRevision returns a counter that changes with every tree mutation
// NOTE: used by caches that key on tree state
func (m *Manager) TreeRevision() uint64 {
	return atomic.LoadUint64(&m.revision)
}

func (m *Manager) bumpRevision() {
	atomic.AddUint64(&m.revision, 1)
}

//---------------------------------------------------------------------------
// mutations
//---------------------------------------------------------------------------

// Create initializes and persists a new domain under an optional parent
// NOTE: a zero parentID places the new domain at the top level
func (m *Manager) Create(ctx context.Context, parentID uint32, name string) (d Domain, err error) {
	m.Lock()
	defer m.Unlock()

	var parent Domain
	if parentID != 0 {
		p, ok := m.domains[parentID]
		if !ok {
			return d, ErrDomainNotFound
		}

		parent = p
	}

	d, err = NewDomain(name, parent)
	if err != nil {
		return d, errors.Wrap(err, "failed to initialize new domain")
	}

	// a brand-new domain has no descendants, nothing else needs repair
	d, err = m.store.CreateDomain(ctx, d)
	if err != nil {
		return d, errors.Wrap(err, "failed to create domain")
	}

	d.calculateChecksum()
	m.domains[d.ID] = d
	m.bumpRevision()

	m.Logger().Debug(
		"created domain",
		zap.Uint32("id", d.ID),
		zap.Uint32("parent_id", d.ParentID),
		zap.String("path", d.Path),
	)

	return d, nil
}

// Move reparents a domain and repairs the paths of its whole subtree
// NOTE: a zero newParentID detaches the domain to the top level
func (m *Manager) Move(ctx context.Context, domainID, newParentID uint32) (d Domain, err error) {
	if domainID == 0 {
		return d, ErrZeroDomainID
	}

	m.Lock()
	defer m.Unlock()

	d, ok := m.domains[domainID]
	if !ok {
		return d, ErrDomainNotFound
	}

	// self-parenting is always a cycle
	if newParentID == domainID {
		return d, ErrInvalidHierarchy
	}

	newPath := PathRoot
	if newParentID != 0 {
		p, ok := m.domains[newParentID]
		if !ok {
			return d, ErrDomainNotFound
		}

		// rejecting a descent into the domain's own subtree
		// before anything is changed
		if d.IsAncestorOf(p) {
			return d, ErrInvalidHierarchy
		}

		newPath = p.SubtreePrefix()
	}

	// moving under the same parent changes nothing
	if d.ParentID == newParentID {
		return d, nil
	}

	oldPrefix := d.SubtreePrefix()

	updated := d
	updated.ParentID = newParentID
	updated.Path = newPath

	// persisting the node along with the store-side subtree repair
	// in a single transactional unit
	if err = m.store.MoveDomain(ctx, updated, oldPrefix, updated.SubtreePrefix()); err != nil {
		return d, errors.Wrap(err, "failed to persist domain move")
	}

	// repairing registry paths depth-first with an explicit worklist;
	// recursion is avoided on purpose, subtrees can be arbitrarily deep
	children := m.childIndex()

	updated.calculateChecksum()
	m.domains[updated.ID] = updated

	worklist := append(make([]uint32, 0, len(children[updated.ID])), children[updated.ID]...)
	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		// a parent is always repaired before its children are reached
		n := m.domains[id]
		n.Path = m.domains[n.ParentID].SubtreePrefix()
		n.calculateChecksum()
		m.domains[id] = n

		worklist = append(worklist, children[id]...)
	}

	m.bumpRevision()

	m.Logger().Debug(
		"moved domain",
		zap.Uint32("id", updated.ID),
		zap.Uint32("new_parent_id", newParentID),
		zap.String("old_prefix", oldPrefix),
		zap.String("new_prefix", updated.SubtreePrefix()),
	)

	return m.domains[domainID], nil
}

// Delete removes a domain together with its whole subtree
// NOTE: refuses with DeleteBlockedError if any external entity still
// references any member of the subtree, in which case nothing is deleted
func (m *Manager) Delete(ctx context.Context, domainID uint32) (err error) {
	if domainID == 0 {
		return ErrZeroDomainID
	}

	m.Lock()
	defer m.Unlock()

	d, ok := m.domains[domainID]
	if !ok {
		return ErrDomainNotFound
	}

	if m.refs == nil {
		return ErrNilRefCounter
	}

	// the subtree is removed as a whole, self included
	ids := m.subtreeIDs(d)

	refs, err := m.refs.CountRefs(ctx, ids)
	if err != nil {
		return errors.Wrap(err, "failed to count domain references")
	}

	// a single live reference anywhere in the subtree blocks the
	// whole deletion
	if refs > 0 {
		return &DeleteBlockedError{DomainID: domainID, RefCount: refs}
	}

	if err = m.store.DeleteDomains(ctx, ids); err != nil {
		return errors.Wrap(err, "failed to delete domain subtree")
	}

	for _, id := range ids {
		delete(m.domains, id)
	}

	m.bumpRevision()

	m.Logger().Debug(
		"deleted domain subtree",
		zap.Uint32("id", domainID),
		zap.Int("subtree_size", len(ids)),
	)

	return nil
}

// Update applies changes produced by a given function to a domain
// NOTE: only the name is allowed to change this way; placement
// changes must go through Move which repairs the subtree
// NOTE: fn runs under the write lock and must not call back into
// the manager
func (m *Manager) Update(ctx context.Context, domainID uint32, fn func(ctx context.Context, d Domain) (Domain, error)) (d Domain, changelog diff.Changelog, err error) {
	if domainID == 0 {
		return d, nil, ErrZeroDomainID
	}

	m.Lock()
	defer m.Unlock()

	d, ok := m.domains[domainID]
	if !ok {
		return d, nil, ErrDomainNotFound
	}

	// saving backup for further diff comparison
	backup := d

	updated, err := fn(ctx, backup)
	if err != nil {
		return d, nil, errors.Wrap(err, "failed to initialize updated domain")
	}

	// placement and identity never change through a plain update
	if updated.ID != backup.ID || updated.ParentID != backup.ParentID || updated.Path != backup.Path {
		return backup, nil, ErrForbiddenChange
	}

	// diffing the mutable part only, anything else is protected
	changelog, err = util.ProtectedChangelog(
		map[string]bool{"Name": true},
		backup.Essential,
		updated.Essential,
	)

	if err != nil {
		return d, nil, errors.Wrap(err, "failed to diff changes")
	}

	if len(changelog) == 0 {
		return d, nil, ErrNothingChanged
	}

	// rebuilding the updated domain from the changelog rejects
	// any change beyond what a plain update is allowed to touch
	if err = d.ApplyChangelog(changelog); err != nil {
		return backup, nil, err
	}

	if err = d.Validate(); err != nil {
		return backup, nil, errors.Wrap(err, "updated domain validation failed")
	}

	d, err = m.store.UpdateDomain(ctx, d)
	if err != nil {
		return backup, nil, errors.Wrap(err, "failed to persist updated domain")
	}

	d.calculateChecksum()
	m.domains[d.ID] = d
	m.bumpRevision()

	m.Logger().Debug("updated domain", zap.Uint32("id", d.ID), zap.String("name", d.Name))

	return d, changelog, nil
}

//---------------------------------------------------------------------------
// lookups
//---------------------------------------------------------------------------

// DomainByID returns a domain by its id
func (m *Manager) DomainByID(ctx context.Context, id uint32) (d Domain, err error) {
	if id == 0 {
		return d, ErrZeroDomainID
	}

	m.RLock()
	d, ok := m.domains[id]
	m.RUnlock()

	if ok {
		return d, nil
	}

	// falling back to the store in case the registry is trailing behind
	d, err = m.store.FetchDomainByID(ctx, id)
	if err != nil {
		return d, err
	}

	d.calculateChecksum()

	m.Lock()
	m.domains[d.ID] = d
	m.Unlock()

	return d, nil
}

// DomainByName returns the first domain carrying a given name
// NOTE: names are not unique, path order breaks the tie
func (m *Manager) DomainByName(ctx context.Context, name string) (d Domain, err error) {
	if name == "" {
		return d, ErrEmptyDomainName
	}

	found := false
	for _, n := range m.List(ctx) {
		if n.Name == name {
			d = n
			found = true
			break
		}
	}

	if !found {
		return d, ErrDomainNotFound
	}

	return d, nil
}

// List returns the whole forest ordered by path, then id
func (m *Manager) List(ctx context.Context) List {
	m.RLock()
	ds := make(List, 0, len(m.domains))
	for _, d := range m.domains {
		ds = append(ds, d)
	}
	m.RUnlock()

	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Path != ds[j].Path {
			return ds[i].Path < ds[j].Path
		}

		return ds[i].ID < ds[j].ID
	})

	return ds
}

// Tree returns the forest as nested nodes, children ordered by path and id
func (m *Manager) Tree(ctx context.Context) []*TreeNode {
	nodes := make(map[uint32]*TreeNode)
	roots := make([]*TreeNode, 0)

	// list order guarantees that a parent is processed before its children
	for _, d := range m.List(ctx) {
		node := &TreeNode{
			ID:       d.ID,
			Name:     d.Name,
			Children: make([]*TreeNode, 0),
		}

		nodes[d.ID] = node

		if parent, ok := nodes[d.ParentID]; ok {
			parent.Children = append(parent.Children, node)
			continue
		}

		roots = append(roots, node)
	}

	return roots
}

//---------------------------------------------------------------------------
// hierarchy queries
//---------------------------------------------------------------------------

// Ancestors resolves the domains along the path, in root-to-parent order
func (m *Manager) Ancestors(ctx context.Context, d Domain) (as []Domain, err error) {
	ids := d.AncestorIDs()
	as = make([]Domain, 0, len(ids))

	for _, id := range ids {
		a, err := m.DomainByID(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve ancestor domain: %d", id)
		}

		as = append(as, a)
	}

	return as, nil
}

// Descendants returns every domain below the given one, path ordered
// NOTE: the domain itself is not included
func (m *Manager) Descendants(ctx context.Context, d Domain) List {
	prefix := d.SubtreePrefix()

	m.RLock()
	ds := make(List, 0)
	for _, n := range m.domains {
		if strings.HasPrefix(n.Path, prefix) {
			ds = append(ds, n)
		}
	}
	m.RUnlock()

	sort.Slice(ds, func(i, j int) bool {
		if ds[i].Path != ds[j].Path {
			return ds[i].Path < ds[j].Path
		}

		return ds[i].ID < ds[j].ID
	})

	return ds
}

// DescendantIDs returns the ids of every domain below the given one
func (m *Manager) DescendantIDs(ctx context.Context, d Domain) []uint32 {
	ds := m.Descendants(ctx, d)

	ids := make([]uint32, 0, len(ds))
	for _, n := range ds {
		ids = append(ids, n.ID)
	}

	return ids
}

// IsAncestorOf tests ancestry between two domains by id
func (m *Manager) IsAncestorOf(ctx context.Context, id, otherID uint32) bool {
	a, err := m.DomainByID(ctx, id)
	if err != nil {
		return false
	}

	b, err := m.DomainByID(ctx, otherID)
	if err != nil {
		return false
	}

	return a.IsAncestorOf(b)
}

// IsDescendantOf tests descent between two domains by id
func (m *Manager) IsDescendantOf(ctx context.Context, id, otherID uint32) bool {
	return m.IsAncestorOf(ctx, otherID, id)
}

//---------------------------------------------------------------------------
// unexported helpers, all expect the write lock to be held
//---------------------------------------------------------------------------

// childIndex builds a parent id to children ids mapping of the registry
func (m *Manager) childIndex() map[uint32][]uint32 {
	children := make(map[uint32][]uint32, len(m.domains))
	for id, n := range m.domains {
		if n.ParentID != 0 {
			children[n.ParentID] = append(children[n.ParentID], id)
		}
	}

	return children
}

// subtreeIDs collects the domain itself and every registry member below it
func (m *Manager) subtreeIDs(d Domain) []uint32 {
	prefix := d.SubtreePrefix()

	ids := make([]uint32, 0, 1)
	ids = append(ids, d.ID)

	for id, n := range m.domains {
		if strings.HasPrefix(n.Path, prefix) {
			ids = append(ids, id)
		}
	}

	return ids
}
