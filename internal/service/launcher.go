package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"natsvisor/internal/config"
	"natsvisor/internal/launch"
	"natsvisor/internal/stager"
)

// Launcher is what the control surface talks to: it stages gnatsd, builds
// its arguments and hands them to the Supervisor.
type Launcher struct {
	stager     *stager.Stager
	builder    *launch.Builder
	supervisor *Supervisor
	presets    *config.PresetsConfig
	logger     zerolog.Logger
}

func NewLauncher(st *stager.Stager, b *launch.Builder, sup *Supervisor, presets *config.PresetsConfig, logger zerolog.Logger) *Launcher {
	if presets == nil {
		presets = &config.PresetsConfig{Presets: []config.Preset{}}
	}
	return &Launcher{
		stager:     st,
		builder:    b,
		supervisor: sup,
		presets:    presets,
		logger:     logger,
	}
}

func (l *Launcher) Supervisor() *Supervisor { return l.supervisor }

func (l *Launcher) Presets() []config.Preset {
	return append([]config.Preset(nil), l.presets.Presets...)
}

func (l *Launcher) IsStaged() bool { return l.stager.IsStaged() }

// Stage copies gnatsd out of the assets unless it is already staged.
func (l *Launcher) Stage() (*stager.StagedExecutable, error) {
	staged, err := l.stager.EnsureStaged()
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to stage gnatsd")
		return nil, err
	}
	if staged.Copied {
		l.logger.Info().
			Str("asset", staged.AssetPath).
			Str("path", staged.LocalPath).
			Msg("Staged gnatsd executable")
	}
	return staged, nil
}

// Start stages if needed, builds the options from req and launches gnatsd.
// Invalid settings are dropped, never reported as errors.
func (l *Launcher) Start(ctx context.Context, req launch.Request) (*Process, launch.Options, error) {
	staged, err := l.Stage()
	if err != nil {
		return nil, launch.Options{}, err
	}

	opts := l.builder.Build(req)
	l.logger.Debug().Strs("args", opts.Args()).Msg("Built server arguments")

	p, err := l.supervisor.Launch(ctx, staged.LocalPath, opts.Args())
	if err != nil {
		return nil, opts, err
	}
	return p, opts, nil
}

func (l *Launcher) StartPreset(ctx context.Context, name string) (*Process, launch.Options, error) {
	preset, ok := l.presets.Find(name)
	if !ok {
		return nil, launch.Options{}, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	return l.Start(ctx, preset.Request)
}

// Stop kills the current server.
func (l *Launcher) Stop() error {
	p, ok := l.supervisor.Current()
	if !ok {
		return &KillError{Err: ErrNotLaunched}
	}
	return l.supervisor.Kill(p.Handle())
}

// KillPID kills a bare pid, for a server the supervisor has lost track of.
func (l *Launcher) KillPID(pid int) error {
	l.logger.Warn().Int("pid", pid).Msg("Operator kill by pid")
	return l.supervisor.KillPID(pid)
}

// Autostart launches the configured autostart preset, if there is one.
func (l *Launcher) Autostart(ctx context.Context) (*Process, error) {
	if l.presets.Autostart == "" {
		return nil, nil
	}
	l.logger.Info().Str("preset", l.presets.Autostart).Msg("Autostarting server")
	p, _, err := l.StartPreset(ctx, l.presets.Autostart)
	return p, err
}
