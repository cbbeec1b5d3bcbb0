package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/swecc-uw/deployctl/internal/core/monitoring"
	"github.com/swecc-uw/deployctl/internal/shell/orchestrator"
)

// targetAll selects every registered service.
const targetAll = "all"

// cli holds state shared by all subcommands.
type cli struct {
	stdout     io.Writer
	stderr     io.Writer
	open       ClientFactory
	configPath string
	cfg        *Config
	logger     *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer, open ClientFactory) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr, open: open}

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Zero-downtime deployments for swarm services",
		Long: `deployctl replaces the running unit of a service with one built from
the current image. When a unit already runs, a staging unit is started,
takes over the stable name, and the production unit is recreated behind it.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		// Errors are printed by run with the matching exit code.
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(c.configPath)
			if err != nil {
				return &CommandError{Op: "load configuration", Err: err, ExitCode: ExitConfigError}
			}
			c.cfg = cfg
			c.logger = SetupLogger(cfg, c.stderr)
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to config file")

	root.AddCommand(c.newDeployCmd())
	root.AddCommand(c.newPlanCmd())
	root.AddCommand(c.newStatusCmd())
	root.AddCommand(c.newServicesCmd())
	return root
}

// targets expands <service|all> against the configured registry.
func (c *cli) targets(arg string) (orchestrator.Policy, []string, error) {
	pol, err := c.cfg.Build()
	if err != nil {
		return pol, nil, &CommandError{Op: "load configuration", Err: err, ExitCode: ExitConfigError}
	}
	if arg == targetAll {
		return pol, pol.Registry.Names(), nil
	}
	if err := pol.Registry.Validate(arg); err != nil {
		return pol, nil, &CommandError{Op: "select service", Err: err, ExitCode: ExitConfigError}
	}
	return pol, []string{arg}, nil
}

// =============================================================================
// deploy
// =============================================================================

func (c *cli) newDeployCmd() *cobra.Command {
	var tag string

	cmd := &cobra.Command{
		Use:   "deploy <service|all>",
		Short: "Deploy one service or every registered service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if tag != "" {
				c.cfg.Image.Tag = tag
			}
			if c.cfg.Registry.Username == "" || c.cfg.Registry.Token == "" {
				return &CommandError{Op: "deploy", Err: errMissingCredentials, ExitCode: ExitConfigError}
			}

			_, services, err := c.targets(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := NewApp(ctx, c.cfg, c.logger, c.open)
			if err != nil {
				return err
			}
			defer app.Close()

			summary := app.orchestrator.DeployMany(ctx, services)
			fmt.Fprint(c.stdout, summary.Report())

			if !summary.OK() {
				return &CommandError{
					Op:       "deploy",
					Err:      fmt.Errorf("failed services: %s", strings.Join(summary.Failed(), ", ")),
					ExitCode: ExitDeployFailed,
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tag, "tag", "", "image tag to deploy (default from config, usually latest)")
	return cmd
}

// =============================================================================
// plan
// =============================================================================

func (c *cli) newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <service|all>",
		Short: "Print the units a deploy would create, without touching the cluster",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, services, err := c.targets(args[0])
			if err != nil {
				return err
			}

			orch := orchestrator.New(nil, pol, nil, nil, c.cfg.OrchestratorConfig(), c.logger)
			plans := make([]orchestrator.ServicePlan, 0, len(services))
			for _, service := range services {
				plan, err := orch.Plan(service)
				if err != nil {
					return &CommandError{Op: "plan " + service, Err: err, ExitCode: ExitConfigError}
				}
				plans = append(plans, plan)
			}

			enc := yaml.NewEncoder(c.stdout)
			enc.SetIndent(2)
			if err := enc.Encode(plans); err != nil {
				return fmt.Errorf("failed to encode plan: %w", err)
			}
			return enc.Close()
		},
	}
}

// =============================================================================
// status
// =============================================================================

func (c *cli) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <service|all>",
		Short: "Show the production and staging units of services",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, services, err := c.targets(args[0])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			app, err := NewApp(ctx, c.cfg, c.logger, c.open)
			if err != nil {
				return err
			}
			defer app.Close()

			statuses, err := app.orchestrator.Status(ctx, services)
			if err != nil {
				return &CommandError{Op: "status", Err: err, ExitCode: ExitDockerError}
			}
			return writeStatus(c.stdout, statuses)
		},
	}
}

func writeStatus(w io.Writer, statuses []orchestrator.UnitStatus) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tUNIT\tROLE\tHEALTH\tTASKS\tIMAGE")
	for _, st := range statuses {
		image := st.Image
		if image == "" {
			image = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			st.Service, st.Unit, st.Role, st.Health, monitoring.FormatStates(st.States), image)
	}
	return tw.Flush()
}

// =============================================================================
// services
// =============================================================================

func (c *cli) newServicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List registered services in deploy order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pol, services, err := c.targets(targetAll)
			if err != nil {
				return err
			}
			for _, name := range services {
				fmt.Fprintf(c.stdout, "%-12s %s\n", name, pol.Resources.Resolve(name))
			}
			return nil
		},
	}
}
