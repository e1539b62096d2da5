package storemanager

import (
	"github.com/fyrsmithlabs/ragstore/internal/backend"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

// StoreMetadata is the persisted description of a store.
type StoreMetadata = backend.Manifest

// CreateStoreRequest asks for a new store holding Records. BaseName
// overrides the configured base name.
type CreateStoreRequest struct {
	Records  []vectorstore.Record
	BaseName string
}

// MergeRequest appends Records to the store named Target.
type MergeRequest struct {
	Target  string
	Records []vectorstore.Record
}

// MergeStoresRequest appends every record of Source to Target. Source is
// left as it was.
type MergeStoresRequest struct {
	Source string
	Target string
}

// DeleteRequest removes the store named Name.
type DeleteRequest struct {
	Name string
}
