package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/benaskins/keyhold/internal/config"
)

// globalFlags are the persistent flags shared by every command.
type globalFlags struct {
	configPath    string
	service       string
	accessGroup   string
	accessibility string
	accessControl []string
	backend       string
	remote        bool
	binary        bool
	verbose       bool
}

// env holds what commands need from the outside world.
type env struct {
	stdin  io.Reader
	isTerm func() bool
	prompt func() ([]byte, error)
	open   opener
}

func defaultEnv() *env {
	return &env{
		stdin:  os.Stdin,
		isTerm: stdinIsTerminal,
		prompt: readPassword,
		open:   openStore,
	}
}

func newRootCmd(e *env) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "keyhold",
		Short:         "Store and fetch secrets in the platform keychain",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if g.verbose {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", config.DefaultPath(), "Path to config file")
	pf.StringVar(&g.service, "service", "", "Keychain service name (default com.keyhold)")
	pf.StringVar(&g.accessGroup, "access-group", "", "Keychain access group")
	pf.StringVar(&g.accessibility, "accessibility", "", "When items are readable: after-first-unlock, when-unlocked, ...")
	pf.StringSliceVar(&g.accessControl, "access-control", nil, "Access control flags, e.g. user-presence,or,watch")
	pf.StringVar(&g.backend, "backend", "", "Storage backend: system or memory")
	pf.BoolVar(&g.remote, "remote", false, "Talk to a running keyhold agent instead of the keychain")
	pf.BoolVar(&g.binary, "binary", false, "Read and write values as base64-encoded raw data")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newGetCmd(e, g),
		newSetCmd(e, g),
		newDeleteCmd(e, g),
		newListCmd(e, g),
		newExistsCmd(e, g),
		newClearCmd(e, g),
		newRotateCmd(e, g),
		newExecCmd(e, g),
		newServeCmd(e, g),
	)
	return root
}

// loadConfig reads the config file and applies flag overrides.
func (g *globalFlags) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Config{}, err
	}
	g.apply(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg.WithDefaults(), nil
}

// apply overrides config values with flags the user set explicitly.
func (g *globalFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("service") {
		cfg.Service = g.service
	}
	if flags.Changed("access-group") {
		cfg.AccessGroup = g.accessGroup
	}
	if flags.Changed("accessibility") {
		cfg.Accessibility = g.accessibility
	}
	if flags.Changed("access-control") {
		cfg.AccessControl = g.accessControl
	}
	if flags.Changed("backend") {
		cfg.Backend = g.backend
	}
}
