package entity

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/voltalis"
)

// NoProgramOption is the select option meaning no program is enabled.
const NoProgramOption = "none"

// ProgramSelect chooses the single active program.
type ProgramSelect struct {
	source ProgramSource

	mu      sync.Mutex
	current string
}

func NewProgramSelect(source ProgramSource) *ProgramSelect {
	return &ProgramSelect{source: source, current: NoProgramOption}
}

func (s *ProgramSelect) ID() string   { return "program_select" }
func (s *ProgramSelect) Name() string { return "Program" }
func (s *ProgramSelect) Kind() Kind   { return KindSelect }

func (s *ProgramSelect) Device() DeviceInfo {
	return DeviceInfo{
		Identifier:   "programs",
		Name:         "Programs",
		Manufacturer: Manufacturer,
		Model:        "Program selector",
	}
}

func (s *ProgramSelect) State() State {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	_, options := s.programs()
	return State{
		Value:     current,
		Available: s.available(),
		Options:   options,
	}
}

func (s *ProgramSelect) available() bool {
	_, ok := s.source.Data()
	return ok && s.source.LastUpdateSuccess()
}

// programs indexes the snapshot by name, in id order. The first program
// holding a name wins.
func (s *ProgramSelect) programs() (map[string]voltalis.Program, []string) {
	data, ok := s.source.Data()
	if !ok {
		return nil, nil
	}

	ids := make([]int, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	byName := make(map[string]voltalis.Program, len(data))
	options := []string{NoProgramOption}
	for _, id := range ids {
		p := data[id]
		if p.Name == NoProgramOption {
			continue
		}
		if _, dup := byName[p.Name]; dup {
			continue
		}
		byName[p.Name] = p
		options = append(options, p.Name)
	}
	return byName, options
}

// HandleUpdate selects the first enabled program as current.
func (s *ProgramSelect) HandleUpdate() {
	byName, options := s.programs()

	var enabled []string
	for _, name := range options[min(1, len(options)):] {
		if byName[name].Enabled {
			enabled = append(enabled, name)
		}
	}
	if len(enabled) > 1 {
		log.Warn().Strs("programs", enabled).Msg("More than one program is enabled")
	}

	current := NoProgramOption
	if len(enabled) > 0 {
		current = enabled[0]
	}

	s.mu.Lock()
	s.current = current
	s.mu.Unlock()
}

// HandleAction switches to the program named value, or disables the current
// one for NoProgramOption.
func (s *ProgramSelect) HandleAction(ctx context.Context, value string) error {
	if !s.available() {
		return ErrUnavailable
	}

	byName, _ := s.programs()

	var newProgram *voltalis.Program
	if value != NoProgramOption {
		p, ok := byName[value]
		if !ok {
			return fmt.Errorf("%w: unknown program %q", ErrInvalidValue, value)
		}
		newProgram = &p
	}

	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	var oldProgram *voltalis.Program
	if p, ok := byName[current]; ok {
		oldProgram = &p
	}

	if oldProgram == nil && newProgram == nil {
		return nil
	}
	if oldProgram != nil && newProgram != nil && oldProgram.ID == newProgram.ID {
		return nil
	}

	if err := s.source.SetProgram(ctx, newProgram, oldProgram); err != nil {
		return err
	}

	s.mu.Lock()
	s.current = value
	s.mu.Unlock()

	log.Info().Str("program", value).Str("previous", current).Msg("Program selected")
	s.source.RequestRefresh()
	return nil
}
