package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pressline/errors"
	"github.com/teranos/pressline/pulse/async"
	"github.com/teranos/pressline/sym"
)

// JobCmd creates and inspects generation jobs
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: sym.Short("job"),
	Long: sym.Job + ` job - Create and inspect content-generation jobs

Examples:
  pressline job create --tenant t1 --dest blog-main --params '{"topic":"tides"}'
  pressline job ls --status failed
  pressline job show <job-id>
  pressline job cleanup --older-than 30d`,
}

var jobCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a job and run it if capacity allows",
	Long: `Create a pending job. When the concurrency cap allows, the job is
claimed and executed right away and this command waits for it; otherwise
it stays pending for the next sweep.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		tenant, _ := cmd.Flags().GetString("tenant")
		dest, _ := cmd.Flags().GetString("dest")
		rawParams, _ := cmd.Flags().GetString("params")

		var params json.RawMessage
		if rawParams != "" {
			params = json.RawMessage(rawParams)
		}

		_, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		job, triggered, err := svc.CreateJob(ctx, tenant, dest, params)
		if err != nil {
			return err
		}
		pterm.Info.Printf("%s Created job %s\n", sym.Job, job.ID)
		if !triggered {
			pterm.Info.Println("At capacity, job left pending for the next sweep")
			return nil
		}

		spinner, _ := pterm.DefaultSpinner.Start("Generating...")
		waitErr := svc.Wait(ctx)
		if spinner != nil {
			_ = spinner.Stop()
		}
		if waitErr != nil {
			return waitErr
		}

		job, err = svc.Store().GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		printJob(job)
		return nil
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job's state and recent history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(store async.JobStore) error {
			job, err := store.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printJob(job)
			return nil
		})
	},
}

var jobLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		rawStatus, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		status, err := parseStatus(rawStatus)
		if err != nil {
			return err
		}
		if limit <= 0 {
			return errors.New("--limit must be positive")
		}

		return withStore(cmd.Context(), func(store async.JobStore) error {
			jobs, err := store.ListJobs(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Printf("%s No jobs found\n", sym.Job)
				return nil
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(jobTable(jobs)).Render(); err != nil {
				return err
			}
			fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
			return nil
		})
	},
}

var jobCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete completed and failed jobs older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, svc, err := openService(ctx)
		if err != nil {
			return err
		}
		defer svc.Close()

		olderThan, _ := cmd.Flags().GetString("older-than")
		age, err := cleanupAge(olderThan, cfg.Pulse.CleanupAfterDays)
		if err != nil {
			return err
		}
		deleted, err := svc.Cleanup(ctx, age)
		if err != nil {
			return err
		}
		pterm.Success.Printf("%s Deleted %d job(s) older than %s\n", sym.Job, deleted, age)
		return nil
	},
}

func init() {
	jobCreateCmd.Flags().String("tenant", "", "Tenant the job belongs to")
	jobCreateCmd.Flags().String("dest", "", "Destination id (empty = no publish slot)")
	jobCreateCmd.Flags().String("params", "", "Generation parameters as a JSON object")

	jobLsCmd.Flags().String("status", "", "Filter by status")
	jobLsCmd.Flags().Int("limit", 50, "Maximum jobs to list")

	jobCleanupCmd.Flags().String("older-than", "", "Age cutoff, e.g. 72h or 30d (default: pulse.cleanup_after_days)")

	JobCmd.AddCommand(jobCreateCmd)
	JobCmd.AddCommand(jobShowCmd)
	JobCmd.AddCommand(jobLsCmd)
	JobCmd.AddCommand(jobCleanupCmd)
}

// cleanupAge resolves --older-than, falling back to the configured retention
func cleanupAge(raw string, defaultDays int) (time.Duration, error) {
	if raw == "" {
		if defaultDays <= 0 {
			return 0, errors.New("--older-than is required when pulse.cleanup_after_days is 0")
		}
		return time.Duration(defaultDays) * 24 * time.Hour, nil
	}
	return parseAge(raw)
}

func jobTable(jobs []*async.Job) pterm.TableData {
	data := pterm.TableData{{"JOB ID", "STATUS", "PHASE", "DEST", "RETRIES", "PUBLISH AT", "CREATED"}}
	for _, job := range jobs {
		data = append(data, []string{
			truncate(job.ID, 13),
			string(job.Status),
			job.Metadata.Phase,
			truncate(job.DestinationID, 16),
			fmt.Sprintf("%d/%d", job.RetryCount, job.TimeoutRetries),
			formatTime(job.ScheduledPublishAt),
			formatTime(&job.CreatedAt),
		})
	}
	return data
}

func printJob(job *async.Job) {
	fmt.Printf("%s Job ID: %s\n", sym.Job, job.ID)
	fmt.Printf("  Tenant:      %s\n", job.TenantID)
	fmt.Printf("  Destination: %s\n", job.DestinationID)
	fmt.Printf("  Status:      %s\n", job.Status)
	if job.Metadata.Phase != "" {
		fmt.Printf("  Phase:       %s\n", job.Metadata.Phase)
	}
	fmt.Printf("  Retries:     %d (timeouts: %d)\n", job.RetryCount, job.TimeoutRetries)
	if job.NextRetryAt != nil {
		fmt.Printf("  Next retry:  %s\n", formatTime(job.NextRetryAt))
	}
	if job.Metadata.LastError != "" {
		fmt.Printf("  Last error:  %s\n", job.Metadata.LastError)
	}
	fmt.Println()

	fmt.Printf("Created:   %s\n", formatTime(&job.CreatedAt))
	fmt.Printf("Started:   %s\n", formatTime(job.StartedAt))
	fmt.Printf("Completed: %s\n", formatTime(job.CompletedAt))
	if job.ArtifactURI != "" {
		fmt.Printf("Artifact:  %s (persisted %s)\n", job.ArtifactURI, formatTime(job.PersistedAt))
	}
	if job.ScheduledPublishAt != nil {
		fmt.Printf("Publish:   %s (auto: %t)\n", formatTime(job.ScheduledPublishAt), job.AutoPublish)
	}

	if len(job.Metadata.History) > 0 {
		fmt.Println("\nHistory:")
		for _, e := range job.Metadata.History {
			line := fmt.Sprintf("  %s  %-10s", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind)
			if e.Attempt > 0 {
				line += fmt.Sprintf(" #%d", e.Attempt)
			}
			if e.Message != "" {
				line += "  " + e.Message
			}
			fmt.Println(line)
		}
	}
}
