package store

import "errors"

var (
	// ErrUnknownCatalogKind indicates a catalog kind other than the four catalog tables.
	ErrUnknownCatalogKind = errors.New("unknown catalog kind")

	// ErrUnknownLayer indicates a layer other than landing, bronze or silver.
	ErrUnknownLayer = errors.New("unknown layer")
)
