package app

import (
	"database/sql"
	"fmt"

	"bountyline/internal/config"
	"bountyline/internal/db"
	"bountyline/internal/engine"
	"bountyline/internal/migrate"
)

// Open prepares a workspace: opens the SQLite database, applies migrations,
// and resolves configuration (falling back to defaults when bountyline.yml is
// absent). The caller owns closing the returned DB.
func Open(workspace, marketplaceOverride string) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	if cfg == nil {
		id := marketplaceOverride
		if id == "" {
			id = "default"
		}
		cfg = config.Default(id)
	}
	if marketplaceOverride != "" {
		cfg.Marketplace.ID = marketplaceOverride
	}
	return conn, engine.New(conn, cfg), nil
}
