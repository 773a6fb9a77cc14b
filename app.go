// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package loam

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/z5labs/loam/internal/try"
	"github.com/z5labs/loam/pkg/config"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// Runtime represents the entry point for user specific code, e.g. an
// [github.com/z5labs/loam/http1.Runtime]. The App takes care of config
// parsing and OS signals so a Runtime only needs to run until its
// context is cancelled.
type Runtime interface {
	Run(context.Context) error
}

// RuntimeFunc is a func which implements the [Runtime] interface.
type RuntimeFunc func(context.Context) error

// Run implements the [Runtime] interface.
func (f RuntimeFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// Lifecycle provides the ability to hook into certain points of
// [App.Run].
type Lifecycle struct {
	preRunHooks  []func(context.Context) error
	postRunHooks []func(context.Context) error
}

// PreRun registers hooks to be called after every [Runtime] has been
// built and before any of them run.
func (l *Lifecycle) PreRun(hooks ...func(context.Context) error) {
	l.preRunHooks = append(l.preRunHooks, hooks...)
}

// PostRun registers hooks to be called after every [Runtime] has
// returned, regardless of whether they returned an error or not.
func (l *Lifecycle) PostRun(hooks ...func(context.Context) error) {
	l.postRunHooks = append(l.postRunHooks, hooks...)
}

type contextKey string

var (
	configContextKey    = contextKey("configContextKey")
	lifecycleContextKey = contextKey("lifecycleContextKey")
)

// ConfigFromContext returns the merged config available to a [RuntimeBuilder].
func ConfigFromContext(ctx context.Context) *config.Manager {
	m, _ := ctx.Value(configContextKey).(*config.Manager)
	return m
}

// LifecycleFromContext returns the [Lifecycle] available to a [RuntimeBuilder].
func LifecycleFromContext(ctx context.Context) *Lifecycle {
	l, _ := ctx.Value(lifecycleContextKey).(*Lifecycle)
	return l
}

// RuntimeBuilder represents anything which can initialize a [Runtime].
type RuntimeBuilder interface {
	Build(context.Context) (Runtime, error)
}

// RuntimeBuilderFunc is a func which implements the [RuntimeBuilder] interface.
type RuntimeBuilderFunc func(context.Context) (Runtime, error)

// Build implements the [RuntimeBuilder] interface.
func (f RuntimeBuilderFunc) Build(ctx context.Context) (Runtime, error) {
	return f(ctx)
}

// Option configures an [App].
type Option func(*App)

// Name configures the name of the application.
func Name(name string) Option {
	return func(a *App) {
		a.name = name
	}
}

// WithRuntimeBuilder registers the given [RuntimeBuilder] with the [App].
func WithRuntimeBuilder(rb RuntimeBuilder) Option {
	return func(a *App) {
		a.rbs = append(a.rbs, rb)
	}
}

// WithRuntimeBuilderFunc registers the given func as a [RuntimeBuilder].
func WithRuntimeBuilderFunc(f func(context.Context) (Runtime, error)) Option {
	return func(a *App) {
		a.rbs = append(a.rbs, RuntimeBuilderFunc(f))
	}
}

// Config registers a YAML config source. The source is rendered as a
// [text/template] first, see [config.RenderTextTemplate]. Later configs
// override the values of earlier ones.
func Config(r io.Reader) Option {
	return func(a *App) {
		a.cfgSrcs = append(a.cfgSrcs, config.FromYaml(config.RenderTextTemplate(r)))
	}
}

// ConfigSource registers any [config.Source], e.g. [config.Defaults].
func ConfigSource(src config.Source) Option {
	return func(a *App) {
		a.cfgSrcs = append(a.cfgSrcs, src)
	}
}

// Hooks allows you to register multiple lifecycle hooks.
func Hooks(fs ...func(*Lifecycle)) Option {
	return func(a *App) {
		for _, f := range fs {
			f(&a.life)
		}
	}
}

// Signals sets the OS signals which cancel the context passed to every
// [Runtime].
// Default is [os.Interrupt] and SIGTERM.
func Signals(sigs ...os.Signal) Option {
	return func(a *App) {
		a.sigs = sigs
	}
}

// App handles the lower level things of running a service:
//   - reading and merging configs
//   - building every [Runtime]
//   - calling lifecycle hooks at the appropriate times
//   - running every [Runtime] and cancelling them on OS signals
type App struct {
	name    string
	cfgSrcs []config.Source
	rbs     []RuntimeBuilder
	life    Lifecycle
	sigs    []os.Signal
}

// New returns a fully initialized [App].
func New(opts ...Option) *App {
	var name string
	if len(os.Args) > 0 {
		name = os.Args[0]
	}
	app := &App{
		name: name,
		sigs: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// Run executes the application with the given command line args,
// usually os.Args[1:].
func (app *App) Run(args ...string) error {
	cmd := buildCmd(app)
	if args == nil {
		// cobra falls back to os.Args for nil args
		args = []string{}
	}
	cmd.SetArgs(args)

	ctx := context.Background()
	if len(app.sigs) > 0 {
		var cancel context.CancelFunc
		ctx, cancel = signal.NotifyContext(ctx, app.sigs...)
		defer cancel()
	}

	return cmd.ExecuteContext(ctx)
}

// ErrNilRuntime is returned when a [RuntimeBuilder] returns a nil [Runtime].
var ErrNilRuntime = errors.New("loam: nil runtime")

// ConfigReadError is returned when the config source cannot be read.
type ConfigReadError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e ConfigReadError) Error() string {
	return fmt.Sprintf("failed to read config source(s): %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e ConfigReadError) Unwrap() error {
	return e.Cause
}

// RuntimeBuildError is returned when the runtime cannot be built from its config.
type RuntimeBuildError struct {
	Cause error
}

// Error implements the [builtin.error] interface.
func (e RuntimeBuildError) Error() string {
	return fmt.Sprintf("failed to build runtime: %s", e.Cause)
}

// Unwrap implements the implicit interface used by [errors.Is] and [errors.As].
func (e RuntimeBuildError) Unwrap() error {
	return e.Cause
}

func buildCmd(app *App) *cobra.Command {
	var cfg *config.Manager
	rs := make([]Runtime, 0, len(app.rbs))

	withValues := func(ctx context.Context) context.Context {
		ctx = context.WithValue(ctx, configContextKey, cfg)
		return context.WithValue(ctx, lifecycleContextKey, &app.life)
	}

	return &cobra.Command{
		Use:          app.name,
		SilenceUsage: true,
		PreRunE: func(cmd *cobra.Command, args []string) (err error) {
			defer try.Recover(&err)

			cfg, err = config.Read(app.cfgSrcs...)
			if err != nil {
				return ConfigReadError{Cause: err}
			}
			// every source has been merged so they can be collected
			app.cfgSrcs = nil

			ctx := withValues(cmd.Context())
			for _, rb := range app.rbs {
				r, err := rb.Build(ctx)
				if err != nil {
					return RuntimeBuildError{Cause: err}
				}
				if r == nil {
					return RuntimeBuildError{Cause: ErrNilRuntime}
				}
				rs = append(rs, r)
			}
			app.rbs = nil

			return runHooks(ctx, app.life.preRunHooks)
		},
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			// cobra skips PostRunE when RunE fails
			defer func() {
				herr := runHooks(withValues(context.WithoutCancel(cmd.Context())), app.life.postRunHooks)
				err = errors.Join(err, herr)
			}()

			return runAll(cmd.Context(), rs)
		},
	}
}

func runAll(ctx context.Context, rs []Runtime) error {
	switch len(rs) {
	case 0:
		return nil
	case 1:
		return run(ctx, rs[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, rt := range rs {
		rt := rt
		g.Go(func() error {
			return run(gctx, rt)
		})
	}
	return g.Wait()
}

func run(ctx context.Context, rt Runtime) (err error) {
	defer try.Recover(&err)

	return rt.Run(ctx)
}

func runHooks(ctx context.Context, hooks []func(context.Context) error) (err error) {
	defer try.Recover(&err)

	errs := make([]error, 0, len(hooks))
	for _, f := range hooks {
		errs = append(errs, f(ctx))
	}
	return errors.Join(errs...)
}
