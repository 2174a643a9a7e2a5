package access

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/agubarev/dominion/pkg/domain"
	"github.com/agubarev/dominion/pkg/util"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// errors
var (
	ErrNilDomainManager = errors.New("domain manager is nil")
)

// Evaluator decides what a caller may see, based on where the caller's
// home domain sits in the organizational tree
// NOTE: policy checks are data, not faults; every operation returns a
// definite answer and "no access" is a normal outcome, so nothing here
// ever returns an error
// NOTE: visibility is downward-only, a caller sees its own domain and
// the subtree below it, never its parents or any other branch
type Evaluator struct {
	domains *domain.Manager
	cache   Cache
	logger  *zap.Logger
}

// NewEvaluator initializes a new access policy evaluator
// NOTE: the cache is optional, a nil cache means every accessible id
// set is recomputed on demand
func NewEvaluator(dm *domain.Manager, cache Cache) (*Evaluator, error) {
	if dm == nil {
		return nil, ErrNilDomainManager
	}

	e := &Evaluator{
		domains: dm,
		cache:   cache,
	}

	return e, nil
}

// SetLogger assigns a logger for this evaluator
func (e *Evaluator) SetLogger(logger *zap.Logger) error {
	if logger != nil {
		logger = logger.Named("[access]")
	}

	e.logger = logger

	return nil
}

// Logger returns primary logger if is set, otherwise initializing and returning
func (e *Evaluator) Logger() *zap.Logger {
	if e.logger == nil {
		l, err := zap.NewDevelopment()
		if err != nil {
			panic(fmt.Errorf("failed to initialize access evaluator logger: %s", err))
		}

		e.logger = l
	}

	return e.logger
}

// DomainVisible decides whether a caller may see a given domain
func (e *Evaluator) DomainVisible(ctx context.Context, c Caller, d domain.Domain) bool {
	// admins bypass the policy entirely
	if c.IsAdmin {
		return true
	}

	// no domain membership means nothing domain-scoped is visible
	if c.IsDomainless() {
		return false
	}

	if d.ID == c.DomainID {
		return true
	}

	home, err := e.domains.DomainByID(ctx, c.DomainID)
	if err != nil {
		// a caller attached to an unresolvable domain sees nothing
		e.Logger().Debug(
			"failed to resolve caller home domain, denying",
			zap.Uint32("domain_id", c.DomainID),
			zap.Error(err),
		)

		return false
	}

	return home.IsAncestorOf(d)
}

// DomainIDVisible is DomainVisible for callers that only hold an id
func (e *Evaluator) DomainIDVisible(ctx context.Context, c Caller, domainID uint32) bool {
	if c.IsAdmin {
		return true
	}

	if domainID == 0 {
		return false
	}

	d, err := e.domains.DomainByID(ctx, domainID)
	if err != nil {
		return false
	}

	return e.DomainVisible(ctx, c, d)
}

// AccessibleDomainIDs returns the ids of every domain the caller may see:
// the home domain itself plus its whole subtree
// NOTE: admins bypass filtering upstream and get nil by convention
func (e *Evaluator) AccessibleDomainIDs(ctx context.Context, c Caller) []uint32 {
	if c.IsAdmin {
		return nil
	}

	if c.IsDomainless() {
		return []uint32{}
	}

	cacheKey := e.cacheKey(c.DomainID)

	if e.cache != nil {
		if entry, err := e.cache.Get(ctx, cacheKey); err == nil {
			var ids []uint32
			if err := json.Unmarshal(entry, &ids); err == nil {
				return ids
			}
		}
	}

	home, err := e.domains.DomainByID(ctx, c.DomainID)
	if err != nil {
		e.Logger().Debug(
			"failed to resolve caller home domain, denying",
			zap.Uint32("domain_id", c.DomainID),
			zap.Error(err),
		)

		return []uint32{}
	}

	ids := append([]uint32{home.ID}, e.domains.DescendantIDs(ctx, home)...)

	if e.cache != nil {
		if payload, err := json.Marshal(ids); err == nil {
			if err := e.cache.Put(ctx, cacheKey, payload); err != nil {
				e.Logger().Debug("failed to cache accessible domain ids", zap.Error(err))
			}
		}
	}

	return ids
}

// FilterByDomain narrows a collection of domain-tagged entities down
// to what the caller may see
// NOTE: entities without a domain tag are visible to admins only;
// the absence of a domain is not "everyone's domain"
func (e *Evaluator) FilterByDomain(ctx context.Context, c Caller, entities []Entity) []Entity {
	if c.IsAdmin {
		return entities
	}

	accessible := e.AccessibleDomainIDs(ctx, c)
	if len(accessible) == 0 {
		// an empty result, not an error; a domainless caller
		// simply sees nothing domain-scoped
		return []Entity{}
	}

	index := make(map[uint32]struct{}, len(accessible))
	for _, id := range accessible {
		index[id] = struct{}{}
	}

	filtered := make([]Entity, 0, len(entities))
	for _, entity := range entities {
		// an untagged entity carries a zero id which is never
		// a member of the accessible set
		if _, ok := index[entity.DomainID()]; ok {
			filtered = append(filtered, entity)
		}
	}

	return filtered
}

// EntityVisible decides whether a caller may see a single entity
func (e *Evaluator) EntityVisible(ctx context.Context, c Caller, entity Entity) bool {
	if c.IsAdmin {
		return true
	}

	if entity.DomainID() == 0 {
		return false
	}

	return e.DomainIDVisible(ctx, c, entity.DomainID())
}

// cacheKey derives a cache key from the home domain and the current
// tree revision, so that any tree mutation naturally invalidates
// every previously cached id set
func (e *Evaluator) cacheKey(domainID uint32) string {
	buf := new(bytes.Buffer)

	// buffer writes never fail
	_ = binary.Write(buf, binary.LittleEndian, domainID)
	_ = binary.Write(buf, binary.LittleEndian, e.domains.TreeRevision())

	return strconv.FormatUint(util.HashKey(buf.Bytes()), 10)
}
