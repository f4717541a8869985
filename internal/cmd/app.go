package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/streamstop/internal/auxiliary"
	"github.com/Iron-Ham/streamstop/internal/config"
	"github.com/Iron-Ham/streamstop/internal/devices"
	"github.com/Iron-Ham/streamstop/internal/finalize"
	"github.com/Iron-Ham/streamstop/internal/logging"
	"github.com/Iron-Ham/streamstop/internal/orchestrator"
	"github.com/Iron-Ham/streamstop/internal/proctree"
	"github.com/Iron-Ham/streamstop/internal/runlock"
	"github.com/Iron-Ham/streamstop/internal/screen"
	"github.com/Iron-Ham/streamstop/internal/stream"
	"github.com/Iron-Ham/streamstop/internal/sweep"
	"github.com/Iron-Ham/streamstop/internal/sysexec"
	"github.com/Iron-Ham/streamstop/internal/target"
	"github.com/Iron-Ham/streamstop/internal/terminate"
)

// app holds the components built from one loaded configuration.
type app struct {
	cfg     *config.Config
	baseDir string
	logger  *logging.Logger

	sessions   *screen.Inventory
	indexer    *proctree.Indexer
	selector   *target.Selector
	terminator *terminate.Terminator
	streams    *stream.Loader
	finalizer  *finalize.Finalizer
	relocator  *sweep.Relocator
	cleaner    *auxiliary.Cleaner
	// cameras is nil when no device API is configured.
	cameras *devices.Registry
}

// loadConfig reads the merged configuration and applies the logging flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configReadErr != nil {
		return nil, fmt.Errorf("failed to read config file: %w", configReadErr)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	if noSyslog, _ := cmd.Flags().GetBool("no-syslog"); noSyslog {
		cfg.Logging.Syslog = false
	}
	return cfg, nil
}

// newApp wires every component from the configuration. Log lines go to the
// configured file, to syslog, and in human-readable form to console.
func newApp(cmd *cobra.Command, console io.Writer) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	baseDir := cfg.ResolveBaseDir()

	logger, err := logging.New(logging.Options{
		Level: cfg.Logging.Level,
		File:  cfg.ResolvePath(cfg.Logging.File),
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
		Console: console,
		Syslog:  cfg.Logging.Syslog,
	})
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	runner := sysexec.NewExecRunner()

	a := &app{cfg: cfg, baseDir: baseDir, logger: logger}
	a.sessions = screen.New(runner, screen.Options{
		StreamPrefix:  cfg.Sessions.StreamPrefix,
		FileMoverName: cfg.Sessions.FileMoverName,
		SettleDelay:   cfg.Sessions.SettleDelay(),
	}, logger.WithStage("sessions"))
	a.indexer = proctree.NewIndexer(runner, logger)
	a.selector = target.NewSelector(a.indexer, target.Options{
		Table:                     scoringTable(cfg.Selector.Rules),
		RefuseBlocklistedFallback: cfg.Selector.RefuseBlocklistedFallback,
	}, logger.WithStage(orchestrator.StageDiscover))
	a.terminator = terminate.New(terminate.SystemSignaler{}, terminate.Options{
		PollInterval: cfg.Terminate.PollInterval(),
	}, logger.WithStage(orchestrator.StageTerminate))
	a.streams = stream.NewLoader(fs, stream.Options{
		BaseDir:          baseDir,
		Profile:          cfg.Profile,
		DefaultTempDir:   cfg.Defaults.TempOutputPath,
		DefaultFinalRoot: cfg.Defaults.FinalOutputPath,
	}, logger)

	a.finalizer, err = finalize.New(fs, finalize.NewLsofChecker(runner, logger), finalize.Options{
		Prefix:          cfg.Finalize.Prefix,
		Extensions:      cfg.Finalize.Extensions,
		RequiredSamples: cfg.Finalize.RequiredSamples,
		MaxSamples:      cfg.Finalize.MaxSamples,
		SampleInterval:  cfg.Finalize.SampleInterval(),
	}, logger.WithStage(orchestrator.StageFinalize))
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	a.relocator = sweep.New(fs, sweep.Options{
		Prefix:     cfg.Finalize.Prefix,
		Extensions: cfg.Finalize.Extensions,
		Pause:      cfg.Sweep.Pause(),
	}, logger.WithStage(orchestrator.StageSweep))

	a.cleaner = auxiliary.New(fs, a.sessions, a.indexer, a.terminator, auxiliary.Options{
		BaseDir:          baseDir,
		FileMoverName:    cfg.Sessions.FileMoverName,
		StopFileMover:    cfg.Auxiliary.StopFileMover,
		MediaServerMatch: cfg.Auxiliary.MediaServerMatch,
		MediaGrace:       cfg.Auxiliary.MediaGrace(),
		DaemonMatch:      cfg.Auxiliary.DaemonMatch,
		EnvTempFiles:     cfg.Auxiliary.EnvTempFiles,
		RemoveEnvFile:    cfg.Auxiliary.RemoveEnvFile,
		NumStreams:       cfg.NumStreams,
		StreamPrefix:     cfg.Sessions.StreamPrefix,
	}, logger.WithStage(orchestrator.StageAuxiliary))

	if cfg.API.BaseURL != "" {
		a.cameras = devices.NewRegistry(&http.Client{Timeout: cfg.API.Timeout()}, devices.Options{
			BaseURL: cfg.API.BaseURL,
			Timeout: cfg.API.Timeout(),
		}, logger.WithStage("devices"))
	}
	return a, nil
}

// scoringTable converts configured rules, falling back to the built-in table.
func scoringTable(rules []config.ScoreRule) target.Table {
	if len(rules) == 0 {
		return target.DefaultTable()
	}
	table := make(target.Table, 0, len(rules))
	for _, r := range rules {
		table = append(table, target.Rule{Token: r.Token, Weight: r.Weight, Mode: target.MatchMode(r.Mode)})
	}
	return table
}

func (a *app) close() {
	_ = a.logger.Close()
}

// lock takes the run lock unless it is disabled, in which case it returns nil.
func (a *app) lock(runID string) (*runlock.Lock, error) {
	if !a.cfg.Lock.Enabled {
		return nil, nil
	}
	return runlock.Acquire(a.cfg.ResolvePath(a.cfg.Lock.File), runID)
}

func (a *app) orchestrator(runID string, alwaysFinalize bool) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Sessions:   a.sessions,
		Snapshot:   a.indexer,
		Selector:   a.selector,
		Terminator: a.terminator,
		Streams:    a.streams,
		Finalizer:  a.finalizer,
		Sweeper:    a.relocator,
		Auxiliary:  a.cleaner,
	}, orchestrator.Options{
		NumStreams:       a.cfg.NumStreams,
		Grace:            a.cfg.Terminate.GracePeriod(),
		AlwaysFinalize:   alwaysFinalize || a.cfg.Finalize.Always,
		ParallelFinalize: a.cfg.Finalize.Parallel,
		MoverSettle:      a.cfg.Sweep.MoverSettle(),
		MaxSweepPasses:   a.cfg.Sweep.MaxPasses,
		InterruptBudget:  a.cfg.Auxiliary.InterruptBudget(),
		RunID:            runID,
	}, a.logger)
}

// inspector builds the dry-run view. Camera names are looked up only when
// the device list loads; a failed load is logged and otherwise ignored.
func (a *app) inspector(ctx context.Context) *orchestrator.Inspector {
	deps := orchestrator.InspectDeps{
		Sessions:  a.sessions,
		Snapshot:  a.indexer,
		Selector:  a.selector,
		Streams:   a.streams,
		Pending:   a.finalizer,
		Sweepable: a.relocator,
	}
	if a.cameras != nil {
		if err := a.cameras.Load(ctx); err != nil {
			a.logger.Warn("camera names unavailable", "error", err)
		} else {
			deps.Cameras = a.cameras
		}
	}
	return orchestrator.NewInspector(deps, a.logger)
}
