package db

import "fmt"

// Open builds the DatabaseBinding for a configured driver. The bolt driver
// needs a file path, postgres a DSN, and memory needs nothing.
func Open(driver, path, dsn string) (DatabaseBinding, error) {
	switch driver {
	case "bolt", "":
		return NewBoltStore(path)
	case "postgres":
		return NewPGStore(dsn)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}
