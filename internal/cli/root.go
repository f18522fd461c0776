// Package cli wires flags, config, and signals into the monitor pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gpumon/gpumon/internal/config"
	"github.com/gpumon/gpumon/internal/executor"
	"github.com/gpumon/gpumon/internal/logging"
	"github.com/gpumon/gpumon/internal/monitor"
	"github.com/gpumon/gpumon/internal/pathutil"
	"github.com/gpumon/gpumon/internal/report"
	"github.com/gpumon/gpumon/internal/sshexec"
)

// Exit codes. Partial host failure is a normal outcome and exits 0 unless
// --strict asks otherwise; only configuration problems and interrupts are
// process-level failures.
const (
	exitOK          = 0
	exitConfigError = 1
	exitStrict      = 2
	exitInterrupted = 130
)

// errInterrupted marks a run cut short by SIGINT/SIGTERM.
var errInterrupted = errors.New("interrupted")

// errStrict marks a --strict run with at least one failed host.
var errStrict = errors.New("one or more hosts failed")

var (
	cfgFileFlag   string
	sshConfigFlag string
	maxWorkers    int
	timeoutFlag   time.Duration
	queryFlag     string
	jsonFlag      bool
	longFlag      bool
	noColorFlag   bool
	noOwnersFlag  bool
	strictFlag    bool
	verboseFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "gpumon",
	Short: "Report GPU utilization across the hosts in your SSH config",
	Long: `gpumon reads host aliases from an SSH client config file, queries each
host's GPUs over ssh in parallel, and prints an aggregated report.

Authentication, proxies, and host keys are handled by the ssh binary using
the same config file, so any host you can "ssh <alias>" into can be
monitored.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runReport(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFileFlag, "config", "", "path to gpumon config file (default ~/.config/gpumon/config.yaml)")
	pf.StringVar(&sshConfigFlag, "ssh_config", "", "path to SSH config file (default ~/.ssh/config)")
	pf.IntVar(&maxWorkers, "max_workers", 0, "maximum concurrent SSH connections (default 4)")
	pf.DurationVar(&timeoutFlag, "timeout", 0, "per-host query timeout (default 30s)")
	pf.StringVar(&queryFlag, "query", "", "remote GPU query command (default \"nvidia-smi -q -x\")")
	pf.BoolVar(&noOwnersFlag, "no-owners", false, "skip resolving GPU process owners")
	pf.BoolVar(&noColorFlag, "no-color", false, "disable colored output")
	pf.BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug logging")

	rootCmd.Flags().BoolVar(&jsonFlag, "json", false, "emit the report as JSON")
	rootCmd.Flags().BoolVarP(&longFlag, "long", "l", false, "per-GPU detail blocks instead of the gauge table")
	rootCmd.Flags().BoolVar(&strictFlag, "strict", false, "exit nonzero when any host fails")
}

// Execute runs the root command and maps error classes to exit codes.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		os.Exit(exitOK)
	}

	switch {
	case errors.Is(err, errInterrupted):
		os.Exit(exitInterrupted)
	case errors.Is(err, errStrict):
		fmt.Fprintf(os.Stderr, "gpumon: %v\n", err)
		os.Exit(exitStrict)
	default:
		fmt.Fprintf(os.Stderr, "gpumon: %v\n", err)
		os.Exit(exitConfigError)
	}
}

// session is everything a subcommand needs after config resolution.
type session struct {
	cfg       *config.Config
	sshConfig string
	aliases   []string
	monitor   *monitor.Monitor
	log       zerolog.Logger
}

// buildSession resolves config file + flags into a ready Monitor.
// Flag values win over config file values; config file values win over
// built-in defaults.
func buildSession(cmd *cobra.Command) (*session, error) {
	log := logging.New(verboseFlag)

	var cfg *config.Config
	var err error
	if cfgFileFlag != "" {
		cfg, err = config.Load(pathutil.ExpandHome(cfgFileFlag))
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}

	sshConfig := sshConfigFlag
	if sshConfig == "" {
		sshConfig = cfg.SSHConfig
	}
	if sshConfig == "" {
		sshConfig = pathutil.DefaultSSHConfigPath()
	}
	sshConfig = pathutil.ExpandHome(sshConfig)

	aliases, err := config.Aliases(sshConfig)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("ssh_config", sshConfig).Int("hosts", len(aliases)).Msg("parsed hosts")

	workers := cfg.Defaults.Workers
	if cmd.Flags().Changed("max_workers") {
		workers = maxWorkers
	}
	timeout := cfg.Defaults.Timeout.Duration
	if timeoutFlag > 0 {
		timeout = timeoutFlag
	}
	query := cfg.Defaults.Query
	if queryFlag != "" {
		query = queryFlag
	}

	disp, err := executor.New(sshexec.NewRunner(sshConfig),
		executor.WithWorkers(workers),
		executor.WithTimeout(timeout),
	)
	if err != nil {
		return nil, err
	}

	mon := monitor.New(disp, monitor.Config{
		Hosts:         aliases,
		Query:         query,
		ResolveOwners: cfg.Defaults.ResolveOwners && !noOwnersFlag,
		Log:           log,
	})

	return &session{
		cfg:       cfg,
		sshConfig: sshConfig,
		aliases:   aliases,
		monitor:   mon,
		log:       log,
	}, nil
}

// signalContext returns a context cancelled by SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// colorEnabled reports whether styled output should be used for stdout.
func colorEnabled() bool {
	if noColorFlag || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// runReport is the one-shot default command: collect a snapshot and print it.
func runReport(cmd *cobra.Command) error {
	sess, err := buildSession(cmd)
	if err != nil {
		return err
	}
	if len(sess.aliases) == 0 {
		fmt.Fprintln(os.Stderr, "gpumon: no connectable hosts in", sess.sshConfig)
		return nil
	}

	ctx, stop := signalContext()
	defer stop()

	snap := sess.monitor.Collect(ctx)

	useJSON := jsonFlag || sess.cfg.Defaults.Output == "json" && !cmd.Flags().Changed("json")
	if useJSON {
		err = report.RenderJSON(os.Stdout, snap)
	} else {
		err = report.Render(os.Stdout, snap, report.Options{
			Color: colorEnabled(),
			Long:  longFlag,
		})
	}
	if err != nil {
		return err
	}

	// The partial report above is still printed on interrupt; the exit
	// code tells scripts it is incomplete.
	if ctx.Err() != nil {
		return errInterrupted
	}

	if strictFlag {
		if ok, _, _, _ := snap.Counts(); ok < len(snap.Hosts) {
			return errStrict
		}
	}
	return nil
}
