package store

import (
	"fmt"
	"path/filepath"
)

// Keyword backends selectable through the lexical_backend setting.
const (
	BackendOkapi  = "okapi"
	BackendBleve  = "bleve"
	BackendSQLite = "sqlite"
)

// NewBM25Index creates a keyword backend. okapi is always in memory; for
// bleve and sqlite an empty dir keeps the index in memory, otherwise it
// lives under dir named after the index.
func NewBM25Index(backend, dir, name string, cfg BM25Config) (BM25Index, error) {
	switch backend {
	case BackendOkapi, "":
		return NewOkapiIndex(cfg), nil
	case BackendBleve:
		return NewBleveBM25Index(IndexPath(dir, name, backend), cfg)
	case BackendSQLite:
		return NewSQLiteBM25Index(IndexPath(dir, name, backend), cfg)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q (valid: okapi, bleve, sqlite)", backend)
	}
}

// IndexPath returns where a persistent backend keeps its files, or "" for
// an in-memory index.
func IndexPath(dir, name, backend string) string {
	if dir == "" {
		return ""
	}
	switch backend {
	case BackendBleve:
		return filepath.Join(dir, name+".bleve")
	case BackendSQLite:
		return filepath.Join(dir, name+".db")
	default:
		return ""
	}
}
