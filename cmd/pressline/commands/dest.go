package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/sym"
)

// DestCmd manages publish destinations
var DestCmd = &cobra.Command{
	Use:   "dest",
	Short: sym.Short("dest"),
	Long: sym.Dest + ` dest - Manage publish destinations

A destination is where generated content is published. Its daily limit
caps how many auto-publish jobs share one local day; inactive destinations
and those without publish config are never scheduled.

Examples:
  pressline dest set blog-main --name "Main blog" --daily-limit 2
  pressline dest import destinations.toml
  pressline dest show blog-main`,
}

var destSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Create or replace a destination",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		d := &async.Destination{ID: args[0]}
		d.Name, _ = flags.GetString("name")
		d.Active, _ = flags.GetBool("active")
		d.AutoScheduleEnabled, _ = flags.GetBool("auto-schedule")
		d.DailyLimit, _ = flags.GetInt("daily-limit")
		d.HasPublishConfig, _ = flags.GetBool("publish-config")

		if err := validateDestination(d); err != nil {
			return err
		}
		return withStore(cmd.Context(), func(store async.JobStore) error {
			if err := store.UpsertDestination(cmd.Context(), d); err != nil {
				return err
			}
			pterm.Success.Printf("%s Destination %s saved\n", sym.Dest, d.ID)
			return nil
		})
	},
}

var destImportCmd = &cobra.Command{
	Use:   "import <file.toml>",
	Short: "Create or replace destinations from a TOML file",
	Long: `Import destinations from a TOML file of [[destination]] tables:

  [[destination]]
  id = "blog-main"
  name = "Main blog"
  active = true
  auto_schedule_enabled = true
  daily_limit = 2
  has_publish_config = true

Unknown keys are rejected so typos do not silently fall back to defaults.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dests, err := loadDestinations(args[0])
		if err != nil {
			return err
		}
		return withStore(cmd.Context(), func(store async.JobStore) error {
			for _, d := range dests {
				if err := store.UpsertDestination(cmd.Context(), d); err != nil {
					return err
				}
			}
			pterm.Success.Printf("%s Imported %d destination(s) from %s\n", sym.Dest, len(dests), args[0])
			return nil
		})
	},
}

var destShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a destination and its upcoming publish slots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		d, err := svc.Store().GetDestination(ctx, args[0])
		if err != nil {
			return err
		}

		fmt.Printf("%s Destination: %s\n", sym.Dest, d.ID)
		fmt.Printf("  Name:          %s\n", d.Name)
		fmt.Printf("  Active:        %t\n", d.Active)
		fmt.Printf("  Auto schedule: %t\n", d.AutoScheduleEnabled)
		fmt.Printf("  Daily limit:   %d\n", d.DailyLimit)
		fmt.Printf("  Publish cfg:   %t\n", d.HasPublishConfig)

		scheduler := svc.Scheduler()
		now := timeNow().In(scheduler.Location())
		taken, err := svc.Store().ScheduledPublishTimes(ctx, d.ID, now, now.AddDate(0, 0, cfg.Slots.HorizonDays))
		if err != nil {
			return err
		}
		fmt.Printf("\nUpcoming publish slots (%s):\n", scheduler.Location())
		if len(taken) == 0 {
			fmt.Println("  none")
		}
		for _, at := range taken {
			fmt.Printf("  %s\n", at.In(scheduler.Location()).Format("Mon 2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	destSetCmd.Flags().String("name", "", "Display name")
	destSetCmd.Flags().Bool("active", true, "Whether the destination accepts content")
	destSetCmd.Flags().Bool("auto-schedule", true, "Allow auto-publish jobs to be scheduled")
	destSetCmd.Flags().Int("daily-limit", 0, "Auto-publish jobs per local day (0 = configured default)")
	destSetCmd.Flags().Bool("publish-config", true, "Whether publish credentials are configured")

	DestCmd.AddCommand(destSetCmd)
	DestCmd.AddCommand(destImportCmd)
	DestCmd.AddCommand(destShowCmd)
}

// destinationFile is the on-disk shape of a destination import
type destinationFile struct {
	Destination []struct {
		ID                  string `toml:"id"`
		Name                string `toml:"name"`
		Active              *bool  `toml:"active"`
		AutoScheduleEnabled *bool  `toml:"auto_schedule_enabled"`
		DailyLimit          int    `toml:"daily_limit"`
		HasPublishConfig    *bool  `toml:"has_publish_config"`
	} `toml:"destination"`
}

// loadDestinations decodes and validates a destination import file.
// Omitted booleans default to true.
func loadDestinations(path string) ([]*async.Destination, error) {
	var file destinationFile
	md, err := toml.DecodeFile(path, &file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Newf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}
	if len(file.Destination) == 0 {
		return nil, errors.Newf("no [[destination]] tables in %s", path)
	}

	seen := make(map[string]bool)
	dests := make([]*async.Destination, 0, len(file.Destination))
	for _, entry := range file.Destination {
		d := &async.Destination{
			ID:                  entry.ID,
			Name:                entry.Name,
			Active:              boolOr(entry.Active, true),
			AutoScheduleEnabled: boolOr(entry.AutoScheduleEnabled, true),
			DailyLimit:          entry.DailyLimit,
			HasPublishConfig:    boolOr(entry.HasPublishConfig, true),
		}
		if err := validateDestination(d); err != nil {
			return nil, errors.Wrapf(err, "in %s", path)
		}
		if seen[d.ID] {
			return nil, errors.Newf("duplicate destination %q in %s", d.ID, path)
		}
		seen[d.ID] = true
		dests = append(dests, d)
	}
	return dests, nil
}

func validateDestination(d *async.Destination) error {
	if strings.TrimSpace(d.ID) == "" {
		return errors.New("destination id is required")
	}
	if d.DailyLimit < 0 {
		return errors.Newf("destination %s: daily_limit must be >= 0, got %d", d.ID, d.DailyLimit)
	}
	return nil
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// withStore opens the runtime just long enough to use its store
func withStore(ctx context.Context, fn func(store async.JobStore) error) error {
	_, svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc.Store())
}
