package db

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"strings"
)

// ErrUsage is returned for a malformed migrate invocation; the caller should
// print help and exit non-zero.
var ErrUsage = errors.New("invalid migrate usage")

// RunMigrateCommand handles the 'migrate' subcommand. It opens dbPath without
// touching the schema, so a broken database can still be inspected. in is
// read for the force confirmation prompt.
func RunMigrateCommand(args []string, dbPath string, in io.Reader, out io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(out)
		return ErrUsage
	}
	action := args[0]
	if action == "help" {
		PrintMigrateHelp(out)
		return nil
	}

	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	migrationsFS := MigrationsFS()

	switch action {
	case "up":
		return handleMigrateUp(database, migrationsFS, out)
	case "down":
		return handleMigrateDown(database, migrationsFS, out)
	case "status":
		return handleMigrateStatus(database, migrationsFS, out)
	case "version":
		if len(args) < 2 {
			return fmt.Errorf("%w: geoanchor migrate version <version_number>", ErrUsage)
		}
		return handleMigrateVersion(database, migrationsFS, args[1])
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("%w: geoanchor migrate force <version_number>", ErrUsage)
		}
		return handleMigrateForce(database, migrationsFS, args[1], in, out)
	case "baseline":
		if len(args) < 2 {
			return fmt.Errorf("%w: geoanchor migrate baseline <version_number>", ErrUsage)
		}
		return handleMigrateBaseline(database, args[1])
	default:
		fmt.Fprintf(out, "Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp(out)
		return ErrUsage
	}
}

func handleMigrateUp(database *DB, migrationsFS fs.FS, out io.Writer) error {
	log.Printf("Running migrations...")
	if err := database.MigrateUp(migrationsFS); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(out, "✓ All migrations applied. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateDown(database *DB, migrationsFS fs.FS, out io.Writer) error {
	log.Printf("Rolling back one migration...")
	if err := database.MigrateDown(migrationsFS); err != nil {
		return err
	}
	version, dirty, _ := database.MigrateVersion(migrationsFS)
	fmt.Fprintf(out, "✓ Migration rolled back. Current version: %d (dirty: %v)\n", version, dirty)
	return nil
}

func handleMigrateStatus(database *DB, migrationsFS fs.FS, out io.Writer) error {
	status, err := database.GetMigrationStatus(migrationsFS)
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "=== Migration Status ===")
	fmt.Fprintf(out, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(out, "Latest available: %d\n", status.LatestVersion)
	fmt.Fprintf(out, "Dirty: %v\n", status.Dirty)
	fmt.Fprintf(out, "Schema migrations table exists: %v\n", status.SchemaMigrationsExists)

	switch {
	case status.Dirty:
		fmt.Fprintln(out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(out, "A migration failed mid-execution. Inspect the database, then run:")
		fmt.Fprintln(out, "  geoanchor migrate force <version>")
	case status.Pending():
		fmt.Fprintf(out, "\n⚠️  Database is %d version(s) behind. Run 'geoanchor migrate up' to update.\n",
			status.LatestVersion-status.CurrentVersion)
	default:
		fmt.Fprintln(out, "\n✓ Database is up to date!")
	}
	return nil
}

func parseVersion(s string) (uint, error) {
	var v uint
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return 0, fmt.Errorf("%w: invalid version number: %s", ErrUsage, s)
	}
	return v, nil
}

func handleMigrateVersion(database *DB, migrationsFS fs.FS, versionStr string) error {
	target, err := parseVersion(versionStr)
	if err != nil {
		return err
	}
	log.Printf("Migrating to version %d...", target)
	if err := database.MigrateTo(migrationsFS, target); err != nil {
		return err
	}
	log.Printf("✓ Migrated to version %d successfully", target)
	return nil
}

func handleMigrateForce(database *DB, migrationsFS fs.FS, versionStr string, in io.Reader, out io.Writer) error {
	v, err := parseVersion(versionStr)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "⚠️  WARNING: Forcing migration version to %d\n", v)
	fmt.Fprintln(out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(out, "Continue? [y/N]: ")

	response, _ := bufio.NewReader(in).ReadString('\n')
	response = strings.TrimSpace(response)
	if response != "y" && response != "Y" {
		fmt.Fprintln(out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(migrationsFS, int(v)); err != nil {
		return err
	}
	log.Printf("✓ Migration version forced to %d", v)
	return nil
}

func handleMigrateBaseline(database *DB, versionStr string) error {
	v, err := parseVersion(versionStr)
	if err != nil {
		return err
	}
	return database.BaselineAtVersion(v)
}

// PrintMigrateHelp writes the help message for the migrate command.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprintln(out, "Database Migration Commands")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: geoanchor migrate <command> [options]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	fmt.Fprintln(out, "  up              Apply all pending migrations")
	fmt.Fprintln(out, "  down            Rollback one migration")
	fmt.Fprintln(out, "  status          Show current migration status and version")
	fmt.Fprintln(out, "  version <N>     Migrate to specific version N")
	fmt.Fprintln(out, "  force <N>       Force migration version to N (recovery only)")
	fmt.Fprintln(out, "  baseline <N>    Set migration version to N without running migrations")
	fmt.Fprintln(out, "  help            Show this help message")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Examples:")
	fmt.Fprintln(out, "  geoanchor migrate up")
	fmt.Fprintln(out, "  geoanchor migrate status")
	fmt.Fprintln(out, "  geoanchor migrate version 2")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Options:")
	fmt.Fprintln(out, "  -db <path>    Path to database file (default: geoanchor.db)")
}
