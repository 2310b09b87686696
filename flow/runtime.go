package flow

import (
	"fmt"
	"os"
	"sync"

	"github.com/dshills/agentflow-go/flow/checkpoint"
	"github.com/dshills/agentflow-go/flow/config"
	"github.com/dshills/agentflow-go/flow/emit"
	"github.com/dshills/agentflow-go/flow/execlog"
	"github.com/dshills/agentflow-go/flow/fault"
	"github.com/dshills/agentflow-go/flow/progress"
	"github.com/dshills/agentflow-go/flow/recovery"
	"github.com/dshills/agentflow-go/flow/retry"
	"github.com/dshills/agentflow-go/flow/state"
	"github.com/dshills/agentflow-go/flow/stream"
)

// Runtime owns the process-wide workflow services and their wiring. Create
// one per process (or per isolated test) with NewRuntime and pass it
// explicitly; Close joins the background loops.
type Runtime struct {
	Config      *config.Config
	Emitter     emit.Emitter
	Categorizer *fault.Categorizer
	State       *state.Store
	Checkpoints *checkpoint.Manager
	Retry       *retry.Manager
	Recovery    *recovery.Manager
	Tracker     *progress.Tracker
	Logger      *execlog.Logger
	Streams     *stream.Registry
	Metrics     *Metrics

	records   execlog.Store
	closeOnce sync.Once
	closeErr  error
}

// NewRuntime wires every subsystem from the configuration. A nil cfg uses
// defaults.
func NewRuntime(cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	rt := &Runtime{Config: cfg}

	var emitters emit.Multi
	emitters = append(emitters, emit.NewLogEmitter(os.Stderr, cfg.Logging.Format == "json"))
	if cfg.Logging.Buffered {
		emitters = append(emitters, emit.NewBufferedEmitter())
	}
	if cfg.Metrics.Enabled {
		rt.Metrics = NewMetrics()
		emitters = append(emitters, rt.Metrics.Observer())
	}
	rt.Emitter = emitters

	rt.Categorizer = fault.NewCategorizer()
	rt.State = state.NewStore(
		state.WithEmitter(rt.Emitter),
		state.WithChangeCapacity(cfg.State.ChangeCapacity),
	)

	checkpoints, err := checkpoint.NewManager(rt.State, cfg.Resolve(cfg.Checkpoint.Dir),
		checkpoint.WithAutoInterval(cfg.Checkpoint.AutoInterval.Std()),
		checkpoint.WithEmitter(rt.Emitter),
	)
	if err != nil {
		return nil, fmt.Errorf("checkpoint manager: %w", err)
	}
	rt.Checkpoints = checkpoints

	monitor, err := retry.NewMonitor(cfg.Resolve(cfg.Retry.MonitorDir))
	if err != nil {
		return nil, fmt.Errorf("retry monitor: %w", err)
	}
	rt.Retry = retry.NewManager(rt.Categorizer,
		retry.WithMonitor(monitor),
		retry.WithEmitter(rt.Emitter),
	)
	rt.Retry.RegisterPolicy("default", policyFromConfig(cfg.Retry))

	rt.Recovery = recovery.NewManager(rt.Categorizer, rt.Checkpoints, rt.State,
		recovery.WithEmitter(rt.Emitter),
		recovery.WithHistoryCapacity(cfg.Recovery.HistoryCapacity),
		recovery.WithLocalRetryLimit(cfg.Recovery.LocalRetryLimit),
		recovery.WithRetryPolicy(policyFromConfig(cfg.Retry)),
	)

	rt.Tracker = progress.NewTracker(
		progress.WithEmitter(rt.Emitter),
		progress.WithCheckpointDir(cfg.Resolve(cfg.Progress.CheckpointDir)),
		progress.WithBroadcastInterval(cfg.Progress.BroadcastInterval.Std()),
		progress.WithCheckpointInterval(cfg.Progress.CheckpointInterval.Std()),
		progress.WithHistoryWindow(cfg.Progress.HistoryWindow),
	)
	rt.Tracker.Run()

	records, err := openRecordStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("execution record store: %w", err)
	}
	rt.records = records
	rt.Logger = execlog.NewLogger(records,
		execlog.WithStateStore(rt.State),
		execlog.WithTracker(rt.Tracker),
		execlog.WithEmitter(rt.Emitter),
	)

	rt.Streams = stream.NewRegistry()
	return rt, nil
}

// policyFromConfig builds the default retry policy from configuration,
// keeping the stock category lists.
func policyFromConfig(rc config.Retry) *retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = rc.MaxRetries
	if rc.InitialDelay > 0 {
		p.InitialDelay = rc.InitialDelay.Std()
	}
	if rc.MaxDelay > 0 {
		p.MaxDelay = rc.MaxDelay.Std()
	}
	if rc.BackoffFactor >= 1 {
		p.BackoffFactor = rc.BackoffFactor
	}
	p.Jitter = rc.Jitter
	if p.Jitter && p.JitterFactor == 0 {
		p.JitterFactor = 0.1
	}
	return p
}

func openRecordStore(cfg *config.Config) (execlog.Store, error) {
	switch cfg.ExecLog.Backend {
	case "sqlite":
		path := cfg.ExecLog.Path
		if path == "" {
			path = "executions.db"
		}
		return execlog.NewSQLiteStore(cfg.Resolve(path))
	case "mysql":
		return execlog.NewMySQLStore(cfg.ExecLog.DSN)
	default:
		return execlog.NewFileStore(cfg.Resolve(cfg.ExecLog.Dir))
	}
}

// SaveState persists the state store to the configured file.
func (r *Runtime) SaveState() error {
	return r.State.Save(r.Config.Resolve(r.Config.State.File))
}

// LoadState restores the state store from the configured file.
func (r *Runtime) LoadState() error {
	return r.State.Load(r.Config.Resolve(r.Config.State.File))
}

// Close stops the background loops and closes the record store. Safe to
// call more than once.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		r.Tracker.Close()
		if err := r.records.Close(); err != nil {
			r.closeErr = err
		}
	})
	return r.closeErr
}

var (
	defaultMu      sync.Mutex
	defaultRuntime *Runtime
)

// Default returns the process-wide runtime, creating it on first call.
// Later calls return the same runtime and ignore cfg.
func Default(cfg *config.Config) (*Runtime, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime != nil {
		return defaultRuntime, nil
	}
	rt, err := NewRuntime(cfg)
	if err != nil {
		return nil, err
	}
	defaultRuntime = rt
	return rt, nil
}

// ResetDefault discards the process-wide runtime after closing it.
func ResetDefault() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRuntime == nil {
		return nil
	}
	err := defaultRuntime.Close()
	defaultRuntime = nil
	return err
}
