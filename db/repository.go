package db

import (
	"errors"

	nodeinterface "github.com/world-in-progress/canopy/node/interface"
)

// IDKey is the primary key of every stored record.
const IDKey = "_id"

// ErrNotFound is returned by ReadOne when no record matches the filter.
var ErrNotFound = errors.New("record not found")

// Repository stores plain records in named tables. Filters match top-level
// fields by equality and updates set the given fields.
type Repository = nodeinterface.IRepository
