package catalog

import (
	"context"
	"fmt"
	"log"
)

const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// OpenSource opens the catalog named by source. For postgres a non-empty
// database replaces the one named in dsn. The returned func releases whatever
// the catalog holds open and is never nil.
func OpenSource(ctx context.Context, source, path, dsn, database string) (Catalog, func(), error) {
	switch source {
	case SourceFile:
		fc, err := LoadFile(path)
		if err != nil {
			return nil, func() {}, fmt.Errorf("load catalog %s: %w", path, err)
		}
		log.Printf("catalog loaded from %s (%d cities)", path, len(fc.cities))
		return fc, func() {}, nil
	case SourcePostgres:
		if database != "" {
			var err error
			if dsn, err = WithDBName(dsn, database); err != nil {
				return nil, func() {}, fmt.Errorf("compose DSN: %w", err)
			}
		}
		db, err := Open(dsn)
		if err != nil {
			return nil, func() {}, fmt.Errorf("db open error: %w", err)
		}
		if err := Ping(ctx, db); err != nil {
			db.Close()
			return nil, func() {}, fmt.Errorf("db ping error: %w", err)
		}
		log.Printf("catalog served from postgres")
		return NewPostgresCatalog(db), func() { db.Close() }, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown catalog source %q", source)
	}
}
