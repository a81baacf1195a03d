package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/sym"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: sym.Short("am"),
	Long: sym.AM + ` am - Show and validate pressline configuration

Configuration sources (in order of precedence):
1. Environment variables (PRESSLINE_* prefix)
2. Project config (nearest ./am.toml)
3. User config (~/.pressline/am.toml)
4. System config (/etc/pressline/am.toml)
5. Default values

Examples:
  pressline am show                 # Show effective configuration
  pressline am show --format yaml   # Show it as YAML
  pressline am where                # Show where each setting came from
  pressline am validate             # Validate current configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration merged from all sources. Secrets are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return writeConfig(cmd.OutOrStdout(), cfg, configFormat)
	},
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return err
		}
		pterm.Success.Printf("Configuration is valid (database: %s, artifacts: %s)\n",
			cfg.Database.Driver, cfg.Artifacts.Backend)
		return nil
	},
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	Long: `Show the configuration cascade and the source of every setting.

Lists the candidate config files in order of precedence, which of them
exist, then each effective setting with the file or variable it came from.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		intro, err := am.GetConfigIntrospection()
		if err != nil {
			return err
		}

		files := pterm.TableData{{"SOURCE", "PATH", "STATUS"}}
		for _, f := range intro.Files {
			status := "missing"
			if _, err := os.Stat(f.Path); err == nil {
				status = "loaded"
			}
			files = append(files, []string{string(f.Source), f.Path, status})
		}
		if err := pterm.DefaultTable.WithHasHeader().WithData(files).Render(); err != nil {
			return err
		}
		pterm.Println()

		if !showAllSettings {
			pterm.Info.Println("Settings overridden from defaults (--all to list every setting):")
		}
		settings := pterm.TableData{{"KEY", "VALUE", "SOURCE"}}
		for _, s := range intro.Settings {
			if !showAllSettings && s.Source == am.SourceDefault {
				continue
			}
			settings = append(settings, []string{s.Key, fmt.Sprint(s.Value), s.SourcePath})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(settings).Render()
	},
}

var (
	configFormat    string
	showAllSettings bool
)

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")
	amWhereCmd.Flags().BoolVar(&showAllSettings, "all", false, "Include settings left at their defaults")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
}

// writeConfig renders the redacted configuration in the requested format
func writeConfig(w io.Writer, cfg *am.Config, format string) error {
	switch format {
	case "toml":
		fmt.Fprintln(w, "# pressline configuration")
		return cfg.WriteTOML(w)

	case "json":
		settings, err := cfg.Settings()
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(settings, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err

	case "yaml":
		settings, err := cfg.Settings()
		if err != nil {
			return err
		}
		data, err := yaml.Marshal(settings)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		_, err = fmt.Fprintf(w, "# pressline configuration\n%s", data)
		return err

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}
