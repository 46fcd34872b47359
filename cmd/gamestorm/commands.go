package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/torosent/gamestorm/internal/config"
	"github.com/torosent/gamestorm/internal/logging"
	"github.com/torosent/gamestorm/internal/stubserver"
)

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "gamestorm",
		Short:         "Load test a real-time game server over its binary TCP protocol",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root)

	for _, s := range config.BuiltinScenarios() {
		root.AddCommand(newScenarioCommand(s, stdout, stderr))
	}
	root.AddCommand(
		newRunCommand(stdout, stderr),
		newSweepCommand(stdout, stderr),
		newScenariosCommand(stdout),
		newStubCommand(stderr),
	)
	return root
}

func newScenarioCommand(s config.Scenario, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   s.Name,
		Short: fmt.Sprintf("%s (%d clients, %s)", s.Description, s.Clients, s.Duration),
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return loadAndRun(cmd, s.Name, stdout, stderr)
		},
	}
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "run [scenario]",
		Short: "Run with a config file, flags or a catalog scenario",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenario := ""
			if len(args) == 1 {
				scenario = args[0]
			}
			return loadAndRun(cmd, scenario, stdout, stderr)
		},
	}
}

func loadAndRun(cmd *cobra.Command, scenario string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(scenario, cmd.Flags())
	if err != nil {
		return err
	}
	return execute(cmd.Context(), cfg, stdout, stderr)
}

func newScenariosCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "scenarios",
		Short: "List built-in and catalog scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("scenarios-file")
			if err != nil {
				return err
			}
			catalog, err := config.LoadCatalog(path)
			if err != nil {
				return err
			}
			printScenarios(stdout, catalog.All())
			return nil
		},
	}
}

func printScenarios(w io.Writer, scenarios []config.Scenario) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCLIENTS\tDURATION\tSEND\tCHAT\tSOURCE\tDESCRIPTION")
	for _, s := range scenarios {
		chat := s.ChatInterval.String()
		if s.DisableChat {
			chat = "off"
		}
		source := "catalog"
		if s.Builtin {
			source = "built-in"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n", s.Name, s.Clients, s.Duration, s.SendInterval, chat, source, s.Description)
	}
	tw.Flush()
}

func newStubCommand(stderr io.Writer) *cobra.Command {
	var (
		listen string
		mode   string
	)
	cmd := &cobra.Command{
		Use:   "stub",
		Short: "Serve the game protocol locally for smoke tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := stubserver.ParseMode(mode)
			if err != nil {
				return err
			}
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			log, err := logging.New(logging.Options{Level: level, Format: format, Out: stderr})
			if err != nil {
				return err
			}
			srv, err := stubserver.Listen(listen, stubserver.Options{Mode: m, Logger: log})
			if err != nil {
				return err
			}
			log.Info().Str("addr", srv.Addr()).Str("mode", string(m)).Msg("stub server listening")
			err = srv.Wait(cmd.Context())
			st := srv.Stats()
			log.Info().
				Int64("accepted", st.Accepted).
				Int64("logins", st.Logins).
				Int64("joins", st.Joins).
				Int64("inputs", st.Inputs).
				Msg("stub server stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:7777", "Address to listen on")
	cmd.Flags().StringVar(&mode, "mode", string(stubserver.ModeNormal), "Behaviour: normal, reject-login, silent, truncate, close or garbage")
	return cmd
}
