package domain_test

import (
	"context"
	"strings"
	"testing"

	"github.com/agubarev/dominion/pkg/domain"
	"github.com/stretchr/testify/assert"
)

// newTestManager builds a manager over a fresh in-memory store
func newTestManager(t *testing.T) (*domain.Manager, *domain.MemoryRefCounter) {
	a := assert.New(t)

	s, err := domain.NewMemoryStore()
	a.NoError(err)
	a.NotNil(s)

	rc := domain.NewMemoryRefCounter()

	m, err := domain.NewManager(context.Background(), s, rc)
	a.NoError(err)
	a.NotNil(m)

	return m, rc
}

func TestManager_Create(t *testing.T) {
	a := assert.New(t)
	m, _ := newTestManager(t)

	// blank context
	ctx := context.Background()

	root, err := m.Create(ctx, 0, "head office")
	a.NoError(err)
	a.NotZero(root.ID)
	a.Equal(domain.PathRoot, root.Path)

	child, err := m.Create(ctx, root.ID, "regional office")
	a.NoError(err)
	a.Equal(root.ID, child.ParentID)
	a.Equal(root.SubtreePrefix(), child.Path)

	grandchild, err := m.Create(ctx, child.ID, "engineering")
	a.NoError(err)
	a.Equal(child.SubtreePrefix(), grandchild.Path)

	//---------------------------------------------------------------------------
	// failure cases
	//---------------------------------------------------------------------------

	// a missing parent
	_, err = m.Create(ctx, 4294967295, "orphan")
	a.EqualError(err, domain.ErrDomainNotFound.Error())

	// an empty name
	_, err = m.Create(ctx, root.ID, "")
	a.Error(err)
}

func TestManager_AncestryQueries(t *testing.T) {
	a := assert.New(t)
	m, _ := newTestManager(t)

	ctx := context.Background()

	//---------------------------------------------------------------------------
	// root R, child C, grandchild G
	//---------------------------------------------------------------------------
	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	c, err := m.Create(ctx, r.ID, "C")
	a.NoError(err)

	g, err := m.Create(ctx, c.ID, "G")
	a.NoError(err)

	// a detached branch that must never show up below R
	x, err := m.Create(ctx, 0, "X")
	a.NoError(err)

	//---------------------------------------------------------------------------
	// ancestors come out in root-to-parent order
	//---------------------------------------------------------------------------
	ancestors, err := m.Ancestors(ctx, g)
	a.NoError(err)
	a.Len(ancestors, 2)
	a.Equal(r.ID, ancestors[0].ID)
	a.Equal(c.ID, ancestors[1].ID)

	ancestors, err = m.Ancestors(ctx, r)
	a.NoError(err)
	a.Len(ancestors, 0)

	//---------------------------------------------------------------------------
	// descendants exclude the seed domain itself
	//---------------------------------------------------------------------------
	a.Equal([]uint32{c.ID, g.ID}, m.DescendantIDs(ctx, r))
	a.Equal([]uint32{g.ID}, m.DescendantIDs(ctx, c))
	a.Len(m.DescendantIDs(ctx, g), 0)
	a.Len(m.DescendantIDs(ctx, x), 0)

	//---------------------------------------------------------------------------
	// reachability predicates
	//---------------------------------------------------------------------------
	a.True(m.IsAncestorOf(ctx, r.ID, g.ID))
	a.True(m.IsAncestorOf(ctx, r.ID, c.ID))
	a.True(m.IsDescendantOf(ctx, g.ID, r.ID))

	a.False(m.IsAncestorOf(ctx, g.ID, r.ID))
	a.False(m.IsAncestorOf(ctx, c.ID, r.ID))
	a.False(m.IsAncestorOf(ctx, x.ID, g.ID))

	// irreflexive
	a.False(m.IsAncestorOf(ctx, r.ID, r.ID))

	// unknown ids never panic, just answer no
	a.False(m.IsAncestorOf(ctx, r.ID, 12345))
}

func TestManager_Move(t *testing.T) {
	a := assert.New(t)
	m, _ := newTestManager(t)

	ctx := context.Background()

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	c, err := m.Create(ctx, r.ID, "C")
	a.NoError(err)

	g, err := m.Create(ctx, c.ID, "G")
	a.NoError(err)

	x, err := m.Create(ctx, 0, "X")
	a.NoError(err)

	//---------------------------------------------------------------------------
	// moving C (with G below it) under X
	//---------------------------------------------------------------------------
	c, err = m.Move(ctx, c.ID, x.ID)
	a.NoError(err)
	a.Equal(x.ID, c.ParentID)
	a.Equal(x.SubtreePrefix(), c.Path)

	// the grandchild followed its ancestor
	g, err = m.DomainByID(ctx, g.ID)
	a.NoError(err)
	a.Equal(c.SubtreePrefix(), g.Path)

	// R lost its whole subtree
	a.Len(m.DescendantIDs(ctx, r), 0)
	a.Equal([]uint32{c.ID, g.ID}, m.DescendantIDs(ctx, x))

	//---------------------------------------------------------------------------
	// detaching C to the top level
	//---------------------------------------------------------------------------
	c, err = m.Move(ctx, c.ID, 0)
	a.NoError(err)
	a.True(c.IsRoot())
	a.Equal(domain.PathRoot, c.Path)

	g, err = m.DomainByID(ctx, g.ID)
	a.NoError(err)
	a.Equal(c.SubtreePrefix(), g.Path)

	//---------------------------------------------------------------------------
	// cycles are rejected before anything changes
	//---------------------------------------------------------------------------
	_, err = m.Move(ctx, c.ID, c.ID)
	a.EqualError(err, domain.ErrInvalidHierarchy.Error())

	_, err = m.Move(ctx, c.ID, g.ID)
	a.EqualError(err, domain.ErrInvalidHierarchy.Error())

	// the tree survived intact
	c, err = m.DomainByID(ctx, c.ID)
	a.NoError(err)
	a.Equal(domain.PathRoot, c.Path)

	g, err = m.DomainByID(ctx, g.ID)
	a.NoError(err)
	a.Equal(c.SubtreePrefix(), g.Path)

	// a missing target parent
	_, err = m.Move(ctx, c.ID, 12345)
	a.EqualError(err, domain.ErrDomainNotFound.Error())

	// a missing domain
	_, err = m.Move(ctx, 12345, c.ID)
	a.EqualError(err, domain.ErrDomainNotFound.Error())
}

func TestManager_MoveRepairsWholeSubtree(t *testing.T) {
	a := assert.New(t)
	m, _ := newTestManager(t)

	ctx := context.Background()

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	x, err := m.Create(ctx, 0, "X")
	a.NoError(err)

	// a chain of five levels under R plus a fork at every level
	parentID := r.ID
	for i := 0; i < 5; i++ {
		branch, err := m.Create(ctx, parentID, "branch")
		a.NoError(err)

		_, err = m.Create(ctx, parentID, "leaf")
		a.NoError(err)

		parentID = branch.ID
	}

	moved := m.DescendantIDs(ctx, r)
	a.Len(moved, 10)

	// reparenting the fork root under X drags all of it along
	r, err = m.Move(ctx, r.ID, x.ID)
	a.NoError(err)

	for _, id := range moved {
		d, err := m.DomainByID(ctx, id)
		a.NoError(err)

		// every descendant path reflects the new ancestor chain
		a.True(strings.HasPrefix(d.Path, r.SubtreePrefix()))

		// and the path still derives from the parent exactly
		parent, err := m.DomainByID(ctx, d.ParentID)
		a.NoError(err)
		a.Equal(parent.SubtreePrefix(), d.Path)
	}
}

func TestManager_Delete(t *testing.T) {
	a := assert.New(t)
	m, rc := newTestManager(t)

	ctx := context.Background()

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	c, err := m.Create(ctx, r.ID, "C")
	a.NoError(err)

	g, err := m.Create(ctx, c.ID, "G")
	a.NoError(err)

	//---------------------------------------------------------------------------
	// a single reference anywhere in the subtree blocks the whole deletion
	//---------------------------------------------------------------------------
	rc.Attach(g.ID)

	err = m.Delete(ctx, r.ID)
	a.Error(err)

	blocked, ok := domain.IsDeleteBlocked(err)
	a.True(ok)
	a.Equal(r.ID, blocked.DomainID)
	a.Equal(uint64(1), blocked.RefCount)

	// nothing was deleted
	for _, id := range []uint32{r.ID, c.ID, g.ID} {
		_, err := m.DomainByID(ctx, id)
		a.NoError(err)
	}

	//---------------------------------------------------------------------------
	// an unreferenced subtree cascades away as a whole
	//---------------------------------------------------------------------------
	rc.Detach(g.ID)

	a.NoError(m.Delete(ctx, r.ID))

	for _, id := range []uint32{r.ID, c.ID, g.ID} {
		_, err := m.DomainByID(ctx, id)
		a.EqualError(err, domain.ErrDomainNotFound.Error())
	}

	// deleting the already deleted
	a.EqualError(m.Delete(ctx, r.ID), domain.ErrDomainNotFound.Error())
}

func TestManager_Update(t *testing.T) {
	a := assert.New(t)
	m, _ := newTestManager(t)

	ctx := context.Background()

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	c, err := m.Create(ctx, r.ID, "before")
	a.NoError(err)

	//---------------------------------------------------------------------------
	// renaming
	//---------------------------------------------------------------------------
	updated, changelog, err := m.Update(ctx, c.ID, func(ctx context.Context, d domain.Domain) (domain.Domain, error) {
		d.Name = "after"
		return d, nil
	})

	a.NoError(err)
	a.Len(changelog, 1)
	a.Equal("after", updated.Name)

	// the change stuck
	c, err = m.DomainByID(ctx, c.ID)
	a.NoError(err)
	a.Equal("after", c.Name)

	//---------------------------------------------------------------------------
	// placement never changes through a plain update
	//---------------------------------------------------------------------------
	_, _, err = m.Update(ctx, c.ID, func(ctx context.Context, d domain.Domain) (domain.Domain, error) {
		d.ParentID = 0
		d.Path = domain.PathRoot
		return d, nil
	})
	a.EqualError(err, domain.ErrForbiddenChange.Error())

	// a no-op update is reported as such
	_, _, err = m.Update(ctx, c.ID, func(ctx context.Context, d domain.Domain) (domain.Domain, error) {
		return d, nil
	})
	a.EqualError(err, domain.ErrNothingChanged.Error())
}

func TestManager_ListAndTree(t *testing.T) {
	a := assert.New(t)
	m, _ := newTestManager(t)

	ctx := context.Background()

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	c, err := m.Create(ctx, r.ID, "C")
	a.NoError(err)

	g, err := m.Create(ctx, c.ID, "G")
	a.NoError(err)

	x, err := m.Create(ctx, 0, "X")
	a.NoError(err)

	//---------------------------------------------------------------------------
	// list is ordered by path, then id
	//---------------------------------------------------------------------------
	list := m.List(ctx)
	a.Len(list, 4)
	a.Equal(r.ID, list[0].ID)
	a.Equal(x.ID, list[1].ID)
	a.Equal(c.ID, list[2].ID)
	a.Equal(g.ID, list[3].ID)

	//---------------------------------------------------------------------------
	// the tree nests the same forest
	//---------------------------------------------------------------------------
	tree := m.Tree(ctx)
	a.Len(tree, 2)
	a.Equal(r.ID, tree[0].ID)
	a.Equal(x.ID, tree[1].ID)

	a.Len(tree[0].Children, 1)
	a.Equal(c.ID, tree[0].Children[0].ID)
	a.Len(tree[0].Children[0].Children, 1)
	a.Equal(g.ID, tree[0].Children[0].Children[0].ID)
	a.Len(tree[1].Children, 0)
}

func TestManager_Reinitialization(t *testing.T) {
	a := assert.New(t)

	s, err := domain.NewMemoryStore()
	a.NoError(err)

	m, err := domain.NewManager(context.Background(), s, domain.NewMemoryRefCounter())
	a.NoError(err)

	ctx := context.Background()

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)

	c, err := m.Create(ctx, r.ID, "C")
	a.NoError(err)

	// re-initializing the manager and expecting the forest to be restored
	m, err = domain.NewManager(context.Background(), s, domain.NewMemoryRefCounter())
	a.NoError(err)

	restored, err := m.DomainByID(ctx, c.ID)
	a.NoError(err)
	a.Equal(c.Path, restored.Path)
	a.True(m.IsAncestorOf(ctx, r.ID, c.ID))
}
