package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
	"github.com/nerrad567/ledlocator/internal/infrastructure/database"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/inventory"
	"github.com/nerrad567/ledlocator/internal/locator"
	"github.com/nerrad567/ledlocator/migrations"
)

// configFlag is the --config value shared by every command.
var configFlag string

// cliPrincipal is who one-shot commands act as. Anyone able to run the
// binary against the database already controls it.
var cliPrincipal = auth.Principal{UserID: "cli", Username: "cli", Role: auth.RoleOwner}

// errUnlocatable makes `locate` exit non-zero when no LED is bound.
var errUnlocatable = errors.New("no LED is assigned to this location")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledlocator",
		Short: "Light the LED under a stock location",
		Long: `LED Locator binds stock locations to LEDs on a WLED strip and lights
the right one on request.

Without a subcommand it runs the service (same as "serve").`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&configFlag, "config", "c", "",
		"config file (default $LEDLOCATOR_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(),
		newLocateCmd(),
		newOffCmd(),
		newRegisterCmd(),
		newUnregisterCmd(),
		newListCmd(),
		newLocationCmd(),
		newMigrateCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket hub and MQTT listener",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context())
		},
	}
}

func newLocateCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "locate <location-id>",
		Short: "Light the LED bound to a stock location",
		Long: `Clears the strip and lights the LED bound to the location.

A location without a usable LED binding is reported (and administrators
are notified) and the command exits non-zero.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				res, err := c.locator.Locate(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if jsonOut {
					if err := writeJSON(out, res); err != nil {
						return err
					}
				} else if res.Outcome == locator.OutcomeLocated {
					fmt.Fprintf(out, "%s lit at LED %d\n", res.LocationID, *res.LED)
				}
				if res.Outcome == locator.OutcomeUnlocatable {
					return errUnlocatable
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output result as JSON")
	return cmd
}

func newOffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "off",
		Short: "Turn every LED on the strip off",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				if err := c.locator.TurnOff(ctx, cliPrincipal); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "LEDs off")
				return nil
			})
		},
	}
}

func newRegisterCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "register <location-id> <led>",
		Short: "Bind a stock location to an LED index",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				res, err := c.locator.Register(ctx, cliPrincipal, args[0], args[1])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"location_id": res.LocationID,
						"led":         res.Current,
						"previous":    res.Previous,
						"overwrote":   res.Overwrote(),
						"message":     res.Message(),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), res.Message())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output result as JSON")
	return cmd
}

func newUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <location-id>",
		Short: "Remove a stock location's LED binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				if err := c.locator.Unregister(ctx, cliPrincipal, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s unregistered\n", args[0])
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"leds"},
		Short:   "List locations with an LED binding",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				regs, err := c.locator.Registrations(ctx)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), regs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tLOCATION\tLED")
				for _, r := range regs {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.LocationID, r.Name, r.LED)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output as JSON")
	return cmd
}

// newLocationCmd manages stock locations for benches without a host
// inventory system.
func newLocationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "location",
		Short: "Manage stock locations",
	}

	var parent, description string
	var jsonOut bool
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a stock location and print its ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCore(cmd, func(ctx context.Context, c *core) error {
				loc := &inventory.Location{Name: args[0], ParentID: parent, Description: description}
				if err := c.locations.Create(ctx, loc); err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), loc)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", loc.ID, loc.PathString)
				return nil
			})
		},
	}
	add.Flags().StringVar(&parent, "parent", "", "parent location ID")
	add.Flags().StringVar(&description, "description", "", "free-text description")
	add.Flags().BoolVar(&jsonOut, "json", false, "output the created location as JSON")

	cmd.AddCommand(add)
	return cmd
}

// newMigrateCmd inspects and reverts the schema. Applying migrations
// happens on every start, so there is no "up".
func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Inspect or roll back the database schema",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(cmd, func(ctx context.Context, db *database.DB) error {
				st, err := db.MigrationStatus(ctx, migrations.FS)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tSTATE")
				for _, a := range st.Applied {
					fmt.Fprintf(tw, "%s\t%s\tapplied %s\n", a.Version, a.Name, a.AppliedAt.Format(time.RFC3339))
				}
				for _, m := range st.Pending {
					fmt.Fprintf(tw, "%s\t%s\tpending\n", m.Version, m.Name)
				}
				return tw.Flush()
			})
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if steps < 1 {
				return fmt.Errorf("--steps must be at least 1, got %d", steps)
			}
			return withDB(cmd, func(ctx context.Context, db *database.DB) error {
				for i := range steps {
					if err := db.MigrateDown(ctx, migrations.FS); err != nil {
						return fmt.Errorf("step %d: %w", i+1, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s)\n", steps)
				return nil
			})
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")

	cmd.AddCommand(status, down)
	return cmd
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Long: `Loads the config file, applies LEDLOCATOR_* overrides and prints the
result. Fails the same way startup would on an invalid configuration.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(getConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			out, err := cfg.RedactedYAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ledlocator %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// withCore loads configuration, opens the core for one command and closes
// it afterwards. Logs go to stderr so stdout stays parseable.
func withCore(cmd *cobra.Command, fn func(ctx context.Context, c *core) error) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Logging.Output = "stderr"
	log := logging.New(cfg.Logging, version)

	ctx := cmd.Context()
	c, err := openCore(ctx, cfg, log, coreOptions{})
	if err != nil {
		return err
	}
	defer c.db.Close() //nolint:errcheck // read-mostly, nothing to recover

	return fn(ctx, c)
}

// withDB opens the database without migrating it or building the core.
func withDB(cmd *cobra.Command, fn func(ctx context.Context, db *database.DB) error) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // nothing to recover

	return fn(cmd.Context(), db)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
