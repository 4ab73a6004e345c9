package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/cadence/internal/repositories"
	"github.com/desertthunder/cadence/internal/scheduler"
	"github.com/desertthunder/cadence/internal/services"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// The database, provider and executor are opened on first use so commands like setup
// work before credentials are configured.
type Runner struct {
	config     *shared.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	db         *sql.DB
	spotify    *services.SpotifyService
	tokens     *services.TokenProvider
	executor   *tasks.Executor
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	DB         *sql.DB
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		db:         opts.DB,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, ownerCommand, scheduleCommand, pairCommand, sourceCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger swaps the logger used by commands and anything opened afterwards.
func (r *Runner) SetLogger(l *log.Logger) {
	r.logger = l
}

// loadConfig reads the --config file, falling back to defaults when it does not exist.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.config == nil {
		path := cmd.String("config")
		if path == "" {
			path = "config.toml"
		}
		r.configPath = path

		if _, err := os.Stat(path); err == nil {
			config, err := shared.LoadConfig(path)
			if err != nil {
				return ctx, err
			}
			r.config = config
		} else {
			r.config = shared.DefaultConfig()
		}
	}

	shared.ConfigureLogger(r.logger, r.config.Log)
	return ctx, nil
}

// openDatabase opens the configured database and applies pending migrations.
func (r *Runner) openDatabase() (*sql.DB, error) {
	if r.db != nil {
		return r.db, nil
	}

	db, err := r.connect()
	if err != nil {
		return nil, err
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.db = db
	return db, nil
}

// connect opens the configured database without touching its schema.
func (r *Runner) connect() (*sql.DB, error) {
	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}
	if r.config.Database.Path != ":memory:" {
		shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)
	}
	return db, nil
}

// openSpotify builds the provider client and the token provider that backs it.
func (r *Runner) openSpotify(db *sql.DB) (*services.SpotifyService, *services.TokenProvider, error) {
	if r.spotify != nil && r.tokens != nil {
		return r.spotify, r.tokens, nil
	}

	spotify, err := services.NewSpotifyService(r.config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Spotify service: %w", err)
	}

	sealer, err := shared.NewSealer(r.config.Security.Key())
	if err != nil {
		return nil, nil, err
	}

	tokens := services.NewTokenProvider(
		repositories.NewCredentialRepository(db),
		sealer,
		spotify.OAuthConfig(),
		spotify.Retry(),
		shared.WithLogger(r.logger, "component", "tokens"),
	)

	r.spotify, r.tokens = spotify, tokens
	return spotify, tokens, nil
}

// openExecutor wires the executor over the provider and token stack.
func (r *Runner) openExecutor(db *sql.DB) (*tasks.Executor, error) {
	if r.executor != nil {
		return r.executor, nil
	}

	spotify, tokens, err := r.openSpotify(db)
	if err != nil {
		return nil, err
	}

	r.executor = tasks.NewExecutor(db, tokens, spotify, r.config.Scheduler, r.logger)
	return r.executor, nil
}

// management returns the management service. With withExecutor the provider stack must be configured.
func (r *Runner) management(withExecutor bool) (*scheduler.Service, error) {
	db, err := r.openDatabase()
	if err != nil {
		return nil, err
	}

	var executor *tasks.Executor
	if withExecutor {
		if executor, err = r.openExecutor(db); err != nil {
			return nil, err
		}
	}

	return scheduler.NewService(db, executor, r.logger), nil
}

// Close releases the database opened by the runner.
func (r *Runner) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
