package commands

import (
	"fmt"

	"github.com/teranos/pressline/am"
	"github.com/teranos/pressline/sym"
	"github.com/teranos/pressline/version"
)

// printStartupBanner prints the server banner with the settings an operator checks first
func printStartupBanner(cfg *am.Config, verbosity int, daemon bool) {
	cyan := "\033[36m"
	green := "\033[32m"
	yellow := "\033[33m"
	magenta := "\033[35m"
	bold := "\033[1m"
	reset := "\033[0m"

	info := version.Get()

	fmt.Printf("\n%s%s", cyan, bold)
	fmt.Printf("   ╔═══════════════════════════════════════════════════╗\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║   █▀█ █▀█ █▀▀ █▀ █▀ █   █ █▄ █ █▀▀                ║\n")
	fmt.Printf("   ║   █▀▀ █▀▄ ██▄ ▄█ ▄█ █▄▄ █ █ ▀█ ██▄                ║\n")
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ║   %s%s%s Jobs  %s%s%s Pulse  %s%s%s Destinations              ║\n",
		yellow, sym.Job, reset+cyan+bold, magenta, sym.Pulse, reset+cyan+bold, green, sym.Dest, reset+cyan+bold)
	fmt.Printf("   ║                                                   ║\n")
	fmt.Printf("   ╚═══════════════════════════════════════════════════╝%s\n\n", reset)

	port := cfg.Server.Port
	if port == 0 {
		port = am.DefaultServerPort
	}
	store := cfg.GetDatabasePath()
	if cfg.Database.Driver == am.DriverPostgres {
		store = "postgres"
	}
	auth := "open"
	if cfg.Server.TriggerToken != "" {
		auth = "bearer token"
	}
	verbosityName := "Info"
	if verbosity > 0 {
		verbosityName = "Debug (-v)"
	}

	fmt.Printf("%s%s┌─ pressline ─────────────────────────────────────────┐%s\n", green, bold, reset)
	fmt.Printf("%s│%s Version:   %s (commit %s)\n", green, reset, info.Version, info.Short())
	fmt.Printf("%s│%s Listen:    :%d (%s)\n", green, reset, port, auth)
	fmt.Printf("%s│%s Database:  %s\n", green, reset, store)
	fmt.Printf("%s│%s Artifacts: %s\n", green, reset, cfg.Artifacts.Backend)
	fmt.Printf("%s│%s Pipeline:  %s\n", green, reset, cfg.Pipeline.URL)
	fmt.Printf("%s│%s Daemon:    %t\n", green, reset, daemon)
	fmt.Printf("%s│%s Verbosity: %s\n", green, reset, verbosityName)
	fmt.Printf("%s└─────────────────────────────────────────────────────┘%s\n", green, reset)

	fmt.Printf("\n%s💡 Press Ctrl+C to stop%s\n\n", yellow, reset)
}
