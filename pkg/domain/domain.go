package domain

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/asaskevich/govalidator"
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"github.com/r3labs/diff"
)

// PathRoot is the path of a domain that has no parent
const PathRoot = "/"

// Essential is the mutable part of a domain, diffed on update
type Essential struct {
	Name string `db:"name" json:"name" valid:"required"`
}

// Domain represents a single organizational unit
// NOTE: Path materializes the full ancestor chain as `/<id>/<id>/...`,
// i.e. a domain under parent 4 which itself sits under 1 has path `/1/4/`;
// a top-level domain holds the bare root marker
type Domain struct {
	ID       uint32 `db:"id" json:"id"`
	ParentID uint32 `db:"parent_id" json:"parent_id"`
	Essential
	Path string `db:"path" json:"path"`

	checksum uint64
	_        struct{}
}

// NewDomain initializes a new domain under an optional parent
// NOTE: the parent is trusted to carry a correct path of its own
func NewDomain(name string, parent Domain) (d Domain, err error) {
	d = Domain{
		ParentID:  parent.ID,
		Essential: Essential{Name: strings.TrimSpace(name)},
		Path:      PathRoot,
	}

	if parent.ID != 0 {
		d.Path = parent.SubtreePrefix()
	}

	if err = d.Validate(); err != nil {
		return d, errors.Wrap(err, "validation failed")
	}

	return d, nil
}

// IsRoot returns true if this domain sits at the top level
func (d Domain) IsRoot() bool {
	return d.ParentID == 0
}

// SubtreePrefix returns the path prefix shared by every domain below
// this one; it is also the exact path of its direct children
func (d Domain) SubtreePrefix() string {
	return d.Path + strconv.FormatUint(uint64(d.ID), 10) + "/"
}

// IsAncestorOf tests whether this domain is anywhere above the other one
// NOTE: the relation is irreflexive, a domain is never its own ancestor
func (d Domain) IsAncestorOf(other Domain) bool {
	return strings.HasPrefix(other.Path, d.SubtreePrefix())
}

// IsDescendantOf tests whether this domain is anywhere below the other one
func (d Domain) IsDescendantOf(other Domain) bool {
	return other.IsAncestorOf(d)
}

// AncestorIDs returns the ids embedded in the path, in root-to-parent order
func (d Domain) AncestorIDs() []uint32 {
	trimmed := strings.Trim(d.Path, "/")
	if trimmed == "" {
		return []uint32{}
	}

	chunks := strings.Split(trimmed, "/")
	ids := make([]uint32, 0, len(chunks))

	for _, chunk := range chunks {
		id, err := strconv.ParseUint(chunk, 10, 32)
		if err != nil {
			// a non-numeric chunk means the path was corrupted externally
			continue
		}

		ids = append(ids, uint32(id))
	}

	return ids
}

// SanitizeAndValidate performs a basic self-check of the domain
func (d Domain) Validate() error {
	if d.Name == "" {
		return ErrEmptyDomainName
	}

	// a domain must never appear along its own ancestor chain
	for _, id := range d.AncestorIDs() {
		if id != 0 && id == d.ID {
			return ErrInvalidHierarchy
		}
	}

	// path must be derived from the parent and nothing else
	if d.ParentID == 0 && d.Path != PathRoot {
		return ErrInvalidHierarchy
	}

	if ok, err := govalidator.ValidateStruct(d); !ok || err != nil {
		return errors.Wrap(err, "domain validation failed")
	}

	return nil
}

// ApplyChangelog applies changes described by a diff.Diff()'s changelog
// NOTE: doing a manual update to avoid using reflection
func (d *Domain) ApplyChangelog(changelog diff.Changelog) (err error) {
	// it's ok if there are no changes to apply
	if len(changelog) == 0 {
		return nil
	}

	for _, change := range changelog {
		switch change.Path[0] {
		case "Name":
			d.Name = change.To.(string)
		case "ID", "ParentID", "Path":
			// id and placement never change through a plain update,
			// placement goes through Move which repairs the subtree
			return ErrForbiddenChange
		}
	}

	return nil
}

// Checksum returns the current checksum, calculating it if necessary
func (d *Domain) Checksum() uint64 {
	if d.checksum == 0 {
		d.calculateChecksum()
	}

	return d.checksum
}

func (d *Domain) calculateChecksum() uint64 {
	buf := new(bytes.Buffer)

	fields := []interface{}{
		d.ID,
		d.ParentID,
		[]byte(d.Name),
		[]byte(d.Path),
	}

	for _, field := range fields {
		if err := binary.Write(buf, binary.LittleEndian, field); err != nil {
			panic(errors.Wrapf(err, "failed to write binary data [%v] to calculate checksum", field))
		}
	}

	// assigning a checksum calculated from a resulting byte slice
	d.checksum = xxhash.Sum64(buf.Bytes())

	return d.checksum
}
