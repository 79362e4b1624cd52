package migrations

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/geyserpg/geyserpg/internal/logger"
)

const (
	upMarker   = "-- +migrate Up"
	downMarker = "-- +migrate Down"

	// NoLimit indicates that there is no limit on the number of
	// migrations to run.
	NoLimit = 0
)

//go:embed 001_schema.sql
var mig001 string

// Migration is a single schema migration, with the Up and Down sections
// in one file separated by the standard markers.
type Migration struct {
	ID  string
	SQL string
}

func all() []Migration {
	return []Migration{
		{ID: "001_schema.sql", SQL: mig001},
	}
}

// RunMigrations brings the schema up to date. It opens a dedicated
// connection through database/sql using the same keyword/value connection
// string the workers use, and closes it when done.
func RunMigrations(log *logger.Logger, connStr string) error {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("error opening migration connection: %w", err)
	}
	defer db.Close()

	return RunMigrationsDB(log, db, migrate.Up, NoLimit)
}

// RunMigrationsDB applies at most maxMigrations migrations against an
// already open database in the given direction. Pass NoLimit to apply
// everything pending.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, dir migrate.MigrationDirection, maxMigrations int) error {
	source := &migrate.MemoryMigrationSource{}

	for _, m := range all() {
		up, down, err := splitSections(m.SQL)
		if err != nil {
			return fmt.Errorf("migration %s: %w", m.ID, err)
		}

		source.Migrations = append(source.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{up},
			Down: []string{down},
		})
	}

	log.Debugf("running migrations (max %d/%d)", maxMigrations, len(source.Migrations))

	n, err := migrate.ExecMax(db, "postgres", source, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migrations (max %d/%d): %w",
			maxMigrations, len(source.Migrations), err)
	}

	log.Infof("successfully ran %d migrations", n)

	return nil
}

// splitSections separates one migration file into its Up and Down SQL.
// The Up section follows the Up marker and runs until the Down marker.
func splitSections(sqlText string) (up string, down string, err error) {
	upIdx := strings.Index(sqlText, upMarker)
	if upIdx == -1 {
		return "", "", fmt.Errorf("missing %q separator", upMarker)
	}

	rest := sqlText[upIdx+len(upMarker):]
	if downIdx := strings.Index(rest, downMarker); downIdx != -1 {
		down = strings.TrimSpace(rest[downIdx+len(downMarker):])
		rest = rest[:downIdx]
	}

	return strings.TrimSpace(rest), down, nil
}
