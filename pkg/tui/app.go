package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/jwoglom/fakecadence/pkg/state"
)

// Run starts the TUI and blocks until the user quits or ctx is done.
func Run(ctx context.Context, p Peripheral, caseState *state.CaseState) error {
	prog := tea.NewProgram(NewModel(p, caseState), tea.WithAltScreen())

	go func() {
		<-ctx.Done()
		prog.Quit()
	}()

	if _, err := prog.Run(); err != nil {
		return errors.Wrap(err, "run TUI")
	}
	return nil
}
