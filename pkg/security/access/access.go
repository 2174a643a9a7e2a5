package access

import (
	"github.com/google/uuid"
)

// Caller is the resolved identity on whose behalf a request runs;
// it is assembled by the surrounding identity layer and passed
// explicitly into every policy check, there is no ambient user state
type Caller struct {
	UserID   uuid.UUID
	DomainID uint32
	IsAdmin  bool
}

// NewCaller is a shorthand for building a caller context
func NewCaller(userID uuid.UUID, domainID uint32, isAdmin bool) Caller {
	return Caller{
		UserID:   userID,
		DomainID: domainID,
		IsAdmin:  isAdmin,
	}
}

// IsDomainless is true when the caller has no home domain at all
func (c Caller) IsDomainless() bool {
	return c.DomainID == 0
}

// Entity is any external record carrying an optional domain tag;
// a zero id means the record is not attached to any domain
type Entity interface {
	DomainID() uint32
}
