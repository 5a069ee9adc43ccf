package syncer

import (
	"log/slog"

	"github.com/roach88/treesync/internal/model"
)

// Options carries per-operation callbacks and flags.
//
// Success and Error are exclusive; Complete always runs afterwards. All
// three run on the store's delivery loop, never inside the call that
// started the operation.
type Options struct {
	// Success receives the operation's result: the raw remote value for
	// reads, the written value for writes.
	Success func(value any)

	// Error receives a *SyncError.
	Error func(err error)

	// Complete runs after Success or Error.
	Complete func()

	// Silent suppresses local events caused by applying fetched data.
	Silent bool

	// Wait is accepted for compatibility and ignored.
	Wait bool

	// Parse applies a read's value to the target before Success.
	Parse bool

	// Reset replaces a collection's members on fetch instead of merging.
	Reset bool
}

func (o Options) succeed(value any) {
	if o.Success != nil {
		o.Success(value)
	}
	if o.Complete != nil {
		o.Complete()
	}
}

func (o Options) fail(err error) {
	if o.Error != nil {
		o.Error(err)
	}
	if o.Complete != nil {
		o.Complete()
	}
}

// remoteOpts returns the model options for applying remote data.
func (o Options) remoteOpts() []model.Option {
	opts := []model.Option{model.FromRemote()}
	if o.Silent {
		opts = append(opts, model.Silent())
	}
	return opts
}

// ControllerOption configures a controller.
type ControllerOption func(*controllerConfig)

type controllerConfig struct {
	autoSync *bool
	logger   *slog.Logger
}

// WithAutoSync chooses the mode explicitly, overriding the kind's default.
func WithAutoSync(auto bool) ControllerOption {
	return func(c *controllerConfig) { c.autoSync = &auto }
}

// WithLogger sets the controller's logger. Default: slog.Default().
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *controllerConfig) { c.logger = l }
}

func newConfig(opts []ControllerOption) controllerConfig {
	cfg := controllerConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
