// submodule cmd contains command definitions
package main

import (
	"strings"

	"github.com/desertthunder/cadence/internal/formatter"
	"github.com/desertthunder/cadence/internal/models"
	"github.com/urfave/cli/v3"
)

func formatNames() string {
	names := make([]string, len(formatter.Formats))
	for i, f := range formatter.Formats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func jobTypeNames() string {
	names := make([]string, len(models.JobTypes))
	for i, t := range models.JobTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func intervalNames() string {
	names := make([]string, len(models.Intervals))
	for i, v := range models.Intervals {
		names[i] = string(v)
	}
	return strings.Join(names, ", ")
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "format",
			Aliases: []string{"f"},
			Usage:   "Output format (" + formatNames() + ")",
			Value:   string(formatter.FormatText),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write output to a file instead of stdout",
		},
	}
}

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	}
}

// setupCommand handles setup operations for the database and secrets.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create a config file if missing, initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "key",
				Usage:  "Generate an encryption key for stored refresh tokens",
				Action: r.SetupKey,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the most recently applied migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand handles owner authorization with the provider
func authCommand(r *Runner) *cli.Command {
	ownerFlag := &cli.StringFlag{
		Name:     "owner",
		Usage:    "Owner ID",
		Required: true,
	}

	return &cli.Command{
		Name:  "auth",
		Usage: "Manage owner credentials",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authorize Spotify for an owner and store the sealed refresh token",
				Flags:  []cli.Flag{ownerFlag},
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Check that an owner's stored credential can still be refreshed",
				Flags:  []cli.Flag{ownerFlag},
				Action: r.AuthStatus,
			},
		},
	}
}

// ownerCommand manages owners
func ownerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "owner",
		Usage: "Manage owners",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Create an owner",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Usage: "Owner email", Required: true},
					&cli.StringFlag{Name: "name", Usage: "Display name"},
				},
				Action: r.OwnerAdd,
			},
			{
				Name:   "list",
				Usage:  "List owners",
				Flags:  jsonFlags(),
				Action: r.OwnerList,
			},
		},
	}
}

// scheduleCommand manages schedules and their history
func scheduleCommand(r *Runner) *cli.Command {
	idArg := []cli.Argument{&cli.StringArg{Name: "id"}}

	return &cli.Command{
		Name:    "schedule",
		Aliases: []string{"sched"},
		Usage:   "Manage scheduled jobs",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a schedule",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "Owner ID", Required: true},
					&cli.StringFlag{Name: "job", Usage: "Job type (" + jobTypeNames() + ")", Required: true},
					&cli.StringFlag{Name: "interval", Usage: "Interval trigger (" + intervalNames() + ")"},
					&cli.StringFlag{Name: "cron", Usage: "Five-field cron trigger, evaluated in UTC"},
					&cli.StringFlag{Name: "playlist", Usage: "Target playlist ID (shuffle, raid, raid_and_shuffle)"},
					&cli.StringSliceFlag{Name: "source", Usage: "Upstream source ID; repeat for several (raid, raid_and_shuffle)"},
					&cli.StringFlag{Name: "pair", Usage: "Playlist pair ID (rotate)"},
					&cli.StringFlag{Name: "algorithm", Usage: "Shuffle algorithm (default random)"},
					&cli.IntFlag{Name: "max-per-run", Usage: "Cap on tracks added per raid run (0 is unlimited)"},
					&cli.Float64Flag{Name: "min-energy", Usage: "Raid filter: minimum energy [0,1]"},
					&cli.Float64Flag{Name: "max-energy", Usage: "Raid filter: maximum energy [0,1]"},
					&cli.Float64Flag{Name: "min-tempo", Usage: "Raid filter: minimum tempo (BPM)"},
					&cli.Float64Flag{Name: "max-tempo", Usage: "Raid filter: maximum tempo (BPM)"},
					&cli.BoolFlag{Name: "exclude-explicit", Usage: "Raid filter: skip explicit tracks"},
					&cli.BoolFlag{Name: "disabled", Usage: "Create the schedule disabled"},
				},
				Action: r.ScheduleCreate,
			},
			{
				Name:   "list",
				Usage:  "List schedules",
				Flags:  append([]cli.Flag{&cli.StringFlag{Name: "owner", Usage: "Only list this owner's schedules"}}, outputFlags()...),
				Action: r.ScheduleList,
			},
			{
				Name:      "show",
				Usage:     "Show a schedule",
				Arguments: idArg,
				Flags:     jsonFlags(),
				Action:    r.ScheduleShow,
			},
			{
				Name:      "toggle",
				Usage:     "Enable or disable a schedule (flips the current state unless --enabled is given)",
				Arguments: idArg,
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "enabled", Usage: "Desired state"},
				},
				Action: r.ScheduleToggle,
			},
			{
				Name:      "delete",
				Usage:     "Delete a schedule, keeping its history",
				Arguments: idArg,
				Action:    r.ScheduleDelete,
			},
			{
				Name:      "run",
				Usage:     "Run a schedule now and wait for the result",
				Arguments: idArg,
				Flags:     jsonFlags(),
				Action:    r.ScheduleRun,
			},
			{
				Name:      "history",
				Usage:     "Show a schedule's execution history",
				Arguments: idArg,
				Flags: append([]cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum executions to list", Value: 20},
				}, outputFlags()...),
				Action: r.ScheduleHistory,
			},
		},
	}
}

// pairCommand manages production/archive playlist pairs
func pairCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "pair",
		Usage: "Manage playlist pairs used by rotate jobs",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a production/archive pair",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "Owner ID", Required: true},
					&cli.StringFlag{Name: "production", Usage: "Production playlist ID", Required: true},
					&cli.StringFlag{Name: "archive", Usage: "Archive playlist ID", Required: true},
					&cli.IntFlag{Name: "retain-newest", Usage: "Keep only the N most recently added tracks"},
					&cli.IntFlag{Name: "max-age-days", Usage: "Archive tracks added more than N days ago"},
					&cli.StringFlag{Name: "replenish-from", Usage: "Playlist ID to refill production from"},
					&cli.IntFlag{Name: "replenish-count", Usage: "Tracks to add from the replenish playlist per run"},
				},
				Action: r.PairCreate,
			},
			{
				Name:   "list",
				Usage:  "List pairs",
				Flags:  append([]cli.Flag{&cli.StringFlag{Name: "owner", Usage: "Only list this owner's pairs"}}, jsonFlags()...),
				Action: r.PairList,
			},
			{
				Name:      "delete",
				Usage:     "Delete a pair",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.PairDelete,
			},
		},
	}
}

// sourceCommand manages upstream sources watched by raids
func sourceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "source",
		Usage: "Manage upstream sources used by raid jobs",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Register an upstream playlist or artist",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "owner", Usage: "Owner ID", Required: true},
					&cli.StringFlag{Name: "type", Usage: "Source type (playlist, artist)", Value: string(models.SourcePlaylist)},
					&cli.StringFlag{Name: "ref", Usage: "Playlist or artist ID", Required: true},
				},
				Action: r.SourceCreate,
			},
			{
				Name:   "list",
				Usage:  "List sources",
				Flags:  append([]cli.Flag{&cli.StringFlag{Name: "owner", Usage: "Only list this owner's sources"}}, jsonFlags()...),
				Action: r.SourceList,
			},
			{
				Name:      "delete",
				Usage:     "Delete a source",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.SourceDelete,
			},
		},
	}
}

// serveCommand runs the tick engine and sweeper until interrupted.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the scheduler until interrupted",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Status endpoint address (defaults to server.host:server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-http",
				Usage: "Do not serve /healthz and /status",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command for the schedule dashboard.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"interactive", "ui"},
		Usage:   "Launch the interactive schedule dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "owner", Usage: "Only show this owner's schedules"},
		},
		Action: r.TUI,
	}
}
