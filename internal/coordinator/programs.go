package coordinator

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// ProgramAPI is the subset of the Voltalis client used for programs.
type ProgramAPI interface {
	GetPrograms(ctx context.Context) (map[int]voltalis.Program, error)
	ToggleProgram(ctx context.Context, program voltalis.Program) error
}

// ProgramCoordinator polls programs and switches the active one.
type ProgramCoordinator struct {
	*Coordinator[map[int]voltalis.Program]
	api ProgramAPI
}

// NewProgramCoordinator creates a program coordinator.
func NewProgramCoordinator(api ProgramAPI, interval time.Duration) *ProgramCoordinator {
	return &ProgramCoordinator{
		Coordinator: New("programs", interval, api.GetPrograms),
		api:         api,
	}
}

// Data returns a copy of the cached programs.
func (p *ProgramCoordinator) Data() (map[int]voltalis.Program, bool) {
	programs, ok := p.Coordinator.Data()
	return maps.Clone(programs), ok
}

// SetProgram disables oldProgram, then enables newProgram. Either may be nil.
// The two calls are not atomic: if enabling fails after disabling succeeded,
// no program stays enabled and the error is returned.
func (p *ProgramCoordinator) SetProgram(ctx context.Context, newProgram, oldProgram *voltalis.Program) error {
	if oldProgram != nil {
		disabled := *oldProgram
		disabled.Enabled = false
		if err := p.api.ToggleProgram(ctx, disabled); err != nil {
			return err
		}
	}

	if newProgram != nil {
		enabled := *newProgram
		enabled.Enabled = true
		if err := p.api.ToggleProgram(ctx, enabled); err != nil {
			if oldProgram != nil {
				log.Warn().
					Int("disabled", oldProgram.ID).
					Int("failed", newProgram.ID).
					Msg("Program switch left no program enabled")
			}
			return err
		}
	}

	return nil
}
