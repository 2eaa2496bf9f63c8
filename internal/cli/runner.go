package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/g960059/aistatus/internal/config"
)

// Runner executes the aistatus command tree against injected streams so the
// commands can be driven from tests.
type Runner struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	getenv func(string) string
}

type globalOptions struct {
	configPath string
	endpoint   string
	contract   string
	logLevel   string
	jsonOut    bool
}

// errSilent marks a failure whose details were already written to the output.
var errSilent = errors.New("command failed")

func NewRunner(in io.Reader, out, errOut io.Writer) *Runner {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	return &Runner{in: in, out: out, errOut: errOut, getenv: os.Getenv}
}

// WithGetenv replaces the environment lookup used for AISTATUS_* overrides.
func (r *Runner) WithGetenv(getenv func(string) string) *Runner {
	if getenv != nil {
		r.getenv = getenv
	}
	return r
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	root := r.newRootCommand()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errSilent) {
			_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		}
		var usage usageError
		if errors.As(err, &usage) {
			return 2
		}
		return 1
	}
	return 0
}

type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func (r *Runner) newRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "aistatus",
		Short:         "Detect AI-assisted editing and report task status",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(r.in)
	root.SetOut(r.out)
	root.SetErr(r.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", config.DefaultConfigPath(), "config file (TOML)")
	pf.StringVar(&g.endpoint, "endpoint", "", "status endpoint base URL")
	pf.StringVar(&g.contract, "contract", "", "endpoint contract (v1|v2)")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	pf.BoolVar(&g.jsonOut, "json", false, "output JSON")

	root.AddCommand(
		r.newRunCmd(g),
		r.newDoctorCmd(g),
		r.newOutboxCmd(g),
		r.newClassifyCmd(g),
	)
	return root
}

// loadConfig layers defaults, the config file, AISTATUS_* variables and flags, in that order.
func (r *Runner) loadConfig(g *globalOptions) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(r.getenv); err != nil {
		return cfg, err
	}
	if v := strings.TrimSpace(g.endpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := strings.TrimSpace(g.contract); v != "" {
		cfg.Contract = strings.ToLower(v)
	}
	if v := strings.TrimSpace(g.logLevel); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
