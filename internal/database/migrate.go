package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Migrate runs every "<name>.<direction>.sql" file in fsys. Up migrations run
// in name order, down migrations in reverse.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS, direction string, log *zap.Logger) (int, error) {
	if direction != "up" && direction != "down" {
		return 0, fmt.Errorf("migration direction must be up or down, got %q", direction)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("read migration directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), "."+direction+".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	if direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	for _, name := range files {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return 0, fmt.Errorf("read migration file %s: %w", name, err)
		}
		log.Info("running migration", zap.String("file", name))
		if _, err := db.ExecContext(ctx, string(content)); err != nil {
			return 0, fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	return len(files), nil
}
