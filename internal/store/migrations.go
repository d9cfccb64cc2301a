package store

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migrations returns the embedded SQL scripts in name order.
func migrations() ([]string, map[string]string, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var names []string
	scripts := map[string]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		names = append(names, e.Name())
		scripts[e.Name()] = sql
	}
	sort.Strings(names)
	return names, scripts, nil
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Postgres) RunMigrations(ctx context.Context) error {
	names, scripts, err := migrations()
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := s.pool.Exec(ctx, scripts[name]); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}
