// Command migrate manages the analysis journal schema.
//
// Usage:
//
//	migrate [-db url] up [n]
//	migrate [-db url] down [n]
//	migrate [-db url] force <version>
//	migrate [-db url] version
package main

import (
	stderrors "errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/windfall/voicecoach_service/internal/logger"
	"github.com/windfall/voicecoach_service/internal/repository"
)

func main() {
	dbURL := flag.String("db", "", "Database URL (defaults to DATABASE_URL)")
	flag.Parse()

	log := logger.New(os.Getenv("LOG_LEVEL"), "console")

	_ = godotenv.Load()
	if *dbURL == "" {
		*dbURL = os.Getenv("DATABASE_URL")
	}
	if *dbURL == "" {
		log.Fatal().Msg("Database URL is required. Set -db or DATABASE_URL")
	}

	if err := run(log, *dbURL, flag.Args()); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func run(log zerolog.Logger, dbURL string, args []string) error {
	if len(args) == 0 {
		args = []string{"up"}
	}
	command, rest := args[0], args[1:]

	n, err := optionalInt(rest)
	if err != nil {
		return err
	}

	m, err := repository.NewMigrator(dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		err = apply(m.Up, m.Steps, n)
	case "down":
		err = apply(m.Down, m.Steps, -n)
	case "force":
		if n == 0 {
			return fmt.Errorf("force needs a version")
		}
		err = m.Force(n)
	case "version":
	default:
		return fmt.Errorf("unknown command %q (want up, down, force or version)", command)
	}

	changed := !stderrors.Is(err, migrate.ErrNoChange)
	if err != nil && changed {
		return fmt.Errorf("%s: %w", command, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !stderrors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read version: %w", err)
	}
	log.Info().
		Str("command", command).
		Uint("version", version).
		Bool("dirty", dirty).
		Bool("changed", changed && command != "version").
		Msg("Journal schema")
	return nil
}

// apply runs every migration when n is zero, otherwise n steps.
func apply(all func() error, steps func(int) error, n int) error {
	if n == 0 {
		return all()
	}
	return steps(n)
}

func optionalInt(args []string) (int, error) {
	if len(args) == 0 {
		return 0, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative number", args[0])
	}
	return n, nil
}
