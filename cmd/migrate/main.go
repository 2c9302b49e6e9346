// Command migrate applies and authors schema migrations for the ledger database.
package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	_ "github.com/lib/pq"
	"github.com/spf13/pflag"
	"github.com/tradeledger/backend/internal/infrastructure/config"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/infrastructure/migration"
	"github.com/tradeledger/backend/migrations"
	"go.uber.org/zap"
)

const defaultMigrationsDir = "migrations"

const usage = `Trade Ledger schema migrations

Usage:
  migrate [flags] <command> [arguments]

Commands (database):
  up                    apply every pending migration
  down                  roll back every migration
  step <n>              apply n migrations, negative n rolls back
  goto <version>        migrate up or down to a version
  version               print the applied version
  status                print applied and latest versions
  force <version>       overwrite the recorded version after a failed run

Commands (files):
  create <name> [desc]  write a new up/down pair
  list                  list the up migrations in the directory

Flags:
`

var errUsage = errors.New("invalid usage")

type cli struct {
	log    *zap.Logger
	dir    string
	source fs.FS
	args   []string
}

// dbCommand runs against an open migrator.
type dbCommand func(c *cli, m *migration.Migrator) error

var dbCommands = map[string]dbCommand{
	"up":      func(_ *cli, m *migration.Migrator) error { return m.Up() },
	"down":    func(_ *cli, m *migration.Migrator) error { return m.Down() },
	"step":    runStep,
	"goto":    runGoto,
	"version": runVersion,
	"status":  runStatus,
	"force":   runForce,
}

var fileCommands = map[string]func(c *cli) error{
	"create": runCreate,
	"list":   runList,
}

func main() {
	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	dir := flags.StringP("path", "p", "", "migrations directory (database commands default to the embedded schema)")
	level := flags.String("log-level", "info", "debug, info, warn or error")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if flags.NArg() == 0 {
		flags.Usage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: *level, Format: "console", Output: "stdout", TimeFormat: "15:04:05"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	c := &cli{log: log, dir: *dir, source: migrations.FS, args: flags.Args()[1:]}
	if err := c.run(flags.Arg(0)); err != nil {
		if errors.Is(err, errUsage) {
			flags.Usage()
		}
		log.Fatal("migrate failed", zap.String("command", flags.Arg(0)), zap.Error(err))
	}
}

func (c *cli) run(command string) error {
	if fn, ok := fileCommands[command]; ok {
		c.dir = migrationsDir(c.dir)
		return fn(c)
	}
	fn, ok := dbCommands[command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
	if c.dir != "" {
		c.source = os.DirFS(c.dir)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	m, err := migration.New(db, c.source, c.log)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(c, m)
}

func (c *cli) arg(i int, name string) (string, error) {
	if i >= len(c.args) {
		return "", fmt.Errorf("%w: missing <%s>", errUsage, name)
	}
	return c.args[i], nil
}

func runStep(c *cli, m *migration.Migrator) error {
	raw, err := c.arg(0, "n")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n == 0 {
		return fmt.Errorf("%w: step count %q", errUsage, raw)
	}
	return m.Steps(n)
}

func runGoto(c *cli, m *migration.Migrator) error {
	raw, err := c.arg(0, "version")
	if err != nil {
		return err
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return fmt.Errorf("%w: version %q", errUsage, raw)
	}
	return m.GoTo(uint(v))
}

func runForce(c *cli, m *migration.Migrator) error {
	raw, err := c.arg(0, "version")
	if err != nil {
		return err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: version %q", errUsage, raw)
	}
	c.log.Warn("overwriting recorded schema version", zap.Int("version", v))
	return m.Force(v)
}

func runVersion(c *cli, m *migration.Migrator) error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	c.log.Info("schema version", zap.Uint("version", v), zap.Bool("dirty", dirty))
	return nil
}

func runStatus(c *cli, m *migration.Migrator) error {
	st, err := m.GetStatus(c.source)
	if err != nil {
		return err
	}
	c.log.Info("schema status",
		zap.Uint("version", st.Version),
		zap.Uint("latest", st.Latest),
		zap.Bool("dirty", st.Dirty),
		zap.Bool("pending", st.Pending()),
	)
	return nil
}

func runCreate(c *cli) error {
	name, err := c.arg(0, "name")
	if err != nil {
		return err
	}
	desc, _ := c.arg(1, "description")
	mf, err := migration.CreateMigration(c.dir, name, desc)
	if err != nil {
		return err
	}
	c.log.Info("migration written",
		zap.Uint("version", mf.Version),
		zap.String("up", mf.UpPath),
		zap.String("down", mf.DownPath),
	)
	return nil
}

func runList(c *cli) error {
	names, err := migration.ListMigrations(c.dir)
	if err != nil {
		return err
	}
	c.log.Info("migrations", zap.String("dir", c.dir), zap.Int("count", len(names)))
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

// migrationsDir resolves the directory used by file commands: the flag,
// then ./migrations, then migrations next to the repository root of the binary.
func migrationsDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if _, err := os.Stat(defaultMigrationsDir); err == nil {
		return defaultMigrationsDir
	}
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "..", "..", defaultMigrationsDir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return defaultMigrationsDir
}
