package storage

import (
	"fmt"

	"pricepulse/internal/application/port"
	"pricepulse/internal/infrastructure/storage/postgres"
	"pricepulse/internal/infrastructure/storage/sqlite"
)

// Open selects the aggregate store backend by driver name.
func Open(driver, dsn, path string) (port.AggregateStore, error) {
	switch driver {
	case "postgres":
		return postgres.New(dsn)
	case "sqlite":
		return sqlite.New(path)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want postgres or sqlite)", driver)
	}
}
