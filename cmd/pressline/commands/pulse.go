package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pressline/pulse"
	"github.com/teranos/pressline/pulse/schedule"
	"github.com/teranos/pressline/sym"
)

// PulseCmd represents the pulse command
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Short("pulse"),
	Long: sym.Pulse + ` Pulse - dispatch, recovery and publish slots.

Pulse provides:
- Continuation dispatch: every finished job offers its slot to the next
- Periodic sweep of eligible pending jobs up to the concurrency cap
- Monitor passes that recover timed-out and unsaved jobs
- GRACE shutdown (in-flight executions finish before exit)

Example:
  pressline pulse start     # Run sweep and monitor on their cadence
  pressline pulse sweep     # One sweep, wait for the launched jobs
  pressline pulse monitor   # One monitor pass
  pressline pulse stats     # Queue depth and recent runs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var pulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the Pulse daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		cfg, svc, err := openService(ctx)
		if err != nil {
			return err
		}

		svc.StartDaemon(ctx)

		fmt.Printf("%s Pulse daemon started\n", sym.PulseOpen)
		fmt.Printf("  Concurrency cap:  %d\n", cfg.Pulse.ConcurrencyCap)
		fmt.Printf("  Sweep interval:   %s\n", seconds(cfg.Pulse.SweepIntervalSeconds))
		fmt.Printf("  Monitor interval: %s\n", seconds(cfg.Pulse.MonitorIntervalSeconds))
		fmt.Printf("  Slots:            %s\n", svc.Scheduler())
		fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

		waitForSignal()

		fmt.Printf("\n%s Initiating GRACE shutdown (up to %s)...\n", sym.PulseClose, cfg.Pulse.StopTimeout())
		cancel()
		svc.Close()

		fmt.Printf("%s Pulse daemon stopped\n", sym.PulseClose)
		return nil
	},
}

var pulseSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one sweep and wait for the jobs it launched",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		result, err := svc.Sweep(ctx, schedule.TriggerCLI)
		if err != nil {
			return err
		}
		pterm.Info.Printf("%s Sweep: capacity %d, triggered %d, skipped %d\n",
			sym.Pulse, result.Capacity, result.Triggered, result.Skipped)

		if result.Triggered > 0 {
			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Waiting for %d job(s)...", result.Triggered))
			err := svc.Wait(ctx)
			if spinner != nil {
				_ = spinner.Stop()
			}
			return err
		}
		return nil
	},
}

var pulseMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run one monitor pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		report, err := svc.Monitor(ctx, schedule.TriggerCLI)
		if err != nil {
			return err
		}

		fmt.Printf("%s Monitor pass\n", sym.Pulse)
		fmt.Printf("  Processing:            %d\n", report.TotalProcessing)
		fmt.Printf("  Timed out:             %d\n", report.TimedOut)
		fmt.Printf("  Retried:               %d\n", report.Retried)
		fmt.Printf("  Stuck (observed):      %d\n", report.Stuck)
		fmt.Printf("  Completed, not saved:  %d\n", report.CompletedButNotSaved)
		for _, e := range report.Errors {
			pterm.Warning.Println(e)
		}
		return svc.Wait(ctx)
	},
}

var pulseStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth, capacity and recent runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		stats, err := svc.Stats(ctx)
		if err != nil {
			return err
		}

		if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
			data, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		return renderStats(stats)
	},
}

func init() {
	pulseStatsCmd.Flags().BoolP("json", "j", false, "Output stats as JSON")

	PulseCmd.AddCommand(pulseStartCmd)
	PulseCmd.AddCommand(pulseSweepCmd)
	PulseCmd.AddCommand(pulseMonitorCmd)
	PulseCmd.AddCommand(pulseStatsCmd)
}

func renderStats(stats *pulse.Stats) error {
	q := stats.Queue
	pterm.DefaultSection.Println(sym.Pulse + " Queue")
	queue := pterm.TableData{
		{"PENDING", "PROCESSING", "COMPLETED", "SCHEDULED", "FAILED", "CAP"},
		{fmt.Sprint(q.Pending), fmt.Sprint(q.Processing), fmt.Sprint(q.Completed),
			fmt.Sprint(q.Scheduled), fmt.Sprint(q.Failed), fmt.Sprint(stats.ConcurrencyCap)},
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(queue).Render(); err != nil {
		return err
	}

	if stats.System != nil {
		pterm.Info.Printf("Memory: %.1f / %.1f GB (%.0f%%)\n",
			stats.System.MemoryUsedGB, stats.System.MemoryTotalGB, stats.System.MemoryPercent)
	}

	if len(stats.RecentRuns) == 0 {
		return nil
	}
	pterm.DefaultSection.Println("Recent runs")
	return pterm.DefaultTable.WithHasHeader().WithData(runTable(stats.RecentRuns)).Render()
}

func runTable(runs []*schedule.Run) pterm.TableData {
	data := pterm.TableData{{"KIND", "TRIGGER", "STATUS", "STARTED", "DURATION", "SUMMARY"}}
	for _, r := range runs {
		duration := "-"
		if r.DurationMS != nil {
			duration = (time.Duration(*r.DurationMS) * time.Millisecond).String()
		}
		summary := string(r.Summary)
		if r.ErrorMessage != "" {
			summary = r.ErrorMessage
		}
		data = append(data, []string{
			r.Kind, r.Trigger, string(r.Status),
			formatTime(&r.StartedAt), duration, truncate(summary, 60),
		})
	}
	return data
}

func seconds(n int) string {
	if n <= 0 {
		return "disabled"
	}
	return (time.Duration(n) * time.Second).String()
}

func waitForSignal() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	<-sigChan
}
