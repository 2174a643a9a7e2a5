package domain_test

import (
	"context"
	"os"
	"testing"

	"github.com/agubarev/dominion/pkg/domain"
	"github.com/agubarev/dominion/pkg/util"
	"github.com/stretchr/testify/assert"
)

func TestBadgerStore(t *testing.T) {
	a := assert.New(t)

	db, dbDir, err := util.CreateRandomBadgerDB()
	a.NoError(err)
	a.NotNil(db)
	defer os.RemoveAll(dbDir)
	defer db.Close()

	s, err := domain.NewBadgerStore(db)
	a.NoError(err)
	a.NotNil(s)

	ctx := context.Background()

	//---------------------------------------------------------------------------
	// the whole manager runs on top of the embedded store
	//---------------------------------------------------------------------------
	m, err := domain.NewManager(ctx, s, domain.NewMemoryRefCounter())
	a.NoError(err)
	a.NotNil(m)

	r, err := m.Create(ctx, 0, "R")
	a.NoError(err)
	a.NotZero(r.ID)

	c, err := m.Create(ctx, r.ID, "C")
	a.NoError(err)

	g, err := m.Create(ctx, c.ID, "G")
	a.NoError(err)

	x, err := m.Create(ctx, 0, "X")
	a.NoError(err)

	//---------------------------------------------------------------------------
	// a move persists the repaired subtree
	//---------------------------------------------------------------------------
	c, err = m.Move(ctx, c.ID, x.ID)
	a.NoError(err)

	// re-initializing from the same database restores the repaired forest
	m, err = domain.NewManager(ctx, s, domain.NewMemoryRefCounter())
	a.NoError(err)

	c, err = m.DomainByID(ctx, c.ID)
	a.NoError(err)
	a.Equal(x.ID, c.ParentID)

	g, err = m.DomainByID(ctx, g.ID)
	a.NoError(err)
	a.Equal(c.SubtreePrefix(), g.Path)

	a.True(m.IsAncestorOf(ctx, x.ID, g.ID))
	a.False(m.IsAncestorOf(ctx, r.ID, g.ID))

	//---------------------------------------------------------------------------
	// deletion cascades through the stored subtree
	//---------------------------------------------------------------------------
	a.NoError(m.Delete(ctx, x.ID))

	_, err = s.FetchDomainByID(ctx, g.ID)
	a.EqualError(err, domain.ErrDomainNotFound.Error())

	ds, err := s.FetchAllDomains(ctx)
	a.NoError(err)
	a.Len(ds, 1)
	a.Equal(r.ID, ds[0].ID)
}
