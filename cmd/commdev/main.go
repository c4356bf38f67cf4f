package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bamsammich/commdev/internal/comm"
	"github.com/bamsammich/commdev/internal/comm/file"
	"github.com/bamsammich/commdev/internal/config"
	"github.com/bamsammich/commdev/internal/ui"
)

var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// globalOpts holds persistent flags and the state derived from them.
type globalOpts struct {
	cfg        config.Config
	logFile    io.Closer
	stderr     io.Writer
	configPath string
	logPath    string
	verbose    bool
	quiet      bool
}

func run(args []string, stdout, stderr io.Writer) int {
	root, g := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.Execute()
	if g.logFile != nil {
		g.logFile.Close() //nolint:errcheck // best-effort close of log file
	}
	if err != nil {
		if exitErr, ok := err.(*exitError); ok {
			return exitErr.code
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, *globalOpts) {
	g := &globalOpts{stderr: stderr}
	var showVersion bool

	rootCmd := &cobra.Command{
		Use:           "commdev",
		Short:         "Byte-stream channels over device files, FIFOs and pseudo-terminals",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return g.setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showVersion {
				fmt.Fprintf(cmd.OutOrStdout(), "commdev %s\n", version)
				return nil
			}
			return cmd.Help()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	rootCmd.Flags().BoolVar(&showVersion, "version", false, "print version and exit")
	rootCmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&g.quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().
		StringVar(&g.configPath, "config", "", "config file (default: $XDG_CONFIG_HOME/commdev/config.toml)")
	rootCmd.PersistentFlags().
		StringVar(&g.logPath, "log", "", "write structured JSON log to FILE")

	rootCmd.AddCommand(newCheckCmd(g))
	rootCmd.AddCommand(newConnectCmd(g))
	rootCmd.AddCommand(newDocsCmd())

	return rootCmd, g
}

// setup loads the config file and installs the default logger.
func (g *globalOpts) setup() error {
	var err error
	if g.configPath != "" {
		g.cfg, err = config.LoadFile(g.configPath)
	} else {
		g.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel, _ := g.cfg.Log.LevelValue() //nolint:errcheck // validated by config.Load
	switch {
	case g.verbose:
		logLevel = slog.LevelDebug
	case g.quiet:
		logLevel = slog.LevelError
	}

	textHandler := slog.NewTextHandler(g.stderr, &slog.HandlerOptions{Level: logLevel})
	var logHandler slog.Handler = textHandler
	if g.logPath != "" {
		lf, err := os.Create(g.logPath)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		g.logFile = lf
		jsonHandler := slog.NewJSONHandler(lf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logHandler = ui.NewMultiHandler(textHandler, jsonHandler)
	}
	slog.SetDefault(slog.New(logHandler))
	return nil
}

// endpoints returns the endpoints named on the command line, or every
// configured endpoint when args is empty.
func (g *globalOpts) endpoints(args []string) ([]comm.Endpoint, error) {
	if len(args) == 0 {
		return g.cfg.Endpoints, nil
	}
	hosts := make([]comm.Endpoint, 0, len(args))
	for _, arg := range args {
		ep, err := g.resolve(arg)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, ep)
	}
	return hosts, nil
}

// resolve maps a configured host name to its endpoint, or parses arg as
// host=path / path.
func (g *globalOpts) resolve(arg string) (comm.Endpoint, error) {
	if ep, ok := g.cfg.Endpoint(arg); ok {
		return ep, nil
	}
	return comm.ParseEndpoint(arg)
}

// newRegistry builds the channel registry. opts apply to every file channel.
func newRegistry(opts ...file.Option) (*comm.Registry, error) {
	reg := comm.NewRegistry()
	if err := file.Register(reg, file.Validator{Logger: slog.Default()}, opts...); err != nil {
		return nil, err
	}
	return reg, nil
}

type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit code %d", e.code)
}
