package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/cadence/internal/shared"
	"github.com/desertthunder/cadence/internal/ui"
	"github.com/urfave/cli/v3"
)

// TUI launches the interactive schedule dashboard.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/cadence-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	shared.ConfigureLogger(fileLogger, r.config.Log)
	r.SetLogger(fileLogger)

	svc, err := r.management(true)
	if err != nil {
		r.logger.Warn("run now unavailable, opening dashboard read-only", "error", err)
		if svc, err = r.management(false); err != nil {
			return err
		}
	}

	model := ui.NewModel(ctx, svc, cmd.String("owner"))
	p := tea.NewProgram(model, tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
