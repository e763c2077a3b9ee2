// Package ident provides the two 128-bit identities used by the runtime:
// random unique ids for object instances and name-derived type ids.
package ident

import "github.com/google/uuid"

// UniqueID identifies one object instance for its whole life, including
// across save/load. The zero value means "no id".
type UniqueID = uuid.UUID

// TypeID identifies a declared type. It is a UUIDv5 of the type name, so
// the same name yields the same id in every process.
type TypeID uuid.UUID

// typeNamespace must never change: persisted snapshots store TypeIDs.
var typeNamespace = uuid.MustParse("8b76c145-755f-4bda-b3a7-593eb5c9129d")

// New returns a fresh random unique id.
func New() UniqueID {
	return uuid.New()
}

// Parse reads a canonical UUID string.
func Parse(s string) (UniqueID, error) {
	return uuid.Parse(s)
}

// TypeIDFromName derives the type id for a declared type name.
func TypeIDFromName(name string) TypeID {
	return TypeID(uuid.NewSHA1(typeNamespace, []byte(name)))
}

func (t TypeID) IsZero() bool   { return t == TypeID{} }
func (t TypeID) String() string { return uuid.UUID(t).String() }

// ParseTypeID reads a canonical UUID string as a type id.
func ParseTypeID(s string) (TypeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TypeID{}, err
	}
	return TypeID(u), nil
}
