package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/societyhub/societyhub/jobs"
)

// JobQueue is the subset of queue operations the jobs commands need.
type JobQueue interface {
	Trigger(ctx context.Context, name string, societyID int64) (*asynq.TaskInfo, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (JobQueue, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{client: jobs.NewClient(opts), inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		err = errors.Join(err, c.inspector.Close())
	}
	if c.client != nil {
		err = errors.Join(err, c.client.Close())
	}
	return err
}

// Trigger enqueues a supported job by name. A positive societyID narrows an
// integrity run to that society.
func (c *JobsCLI) Trigger(ctx context.Context, name string, societyID int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if name == jobs.TaskLedgerIntegrity && societyID > 0 {
		return c.client.EnqueueLedgerIntegrity(ctx, societyID)
	}
	info, err := c.client.EnqueueByName(ctx, name)
	if errors.Is(err, jobs.ErrUnknownTask) {
		return nil, fmt.Errorf("jobs cli: unsupported job %s", name)
	}
	return info, err
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
	}
	return stats, nil
}

// ListScheduled returns scheduled task infos for observability.
func (c *JobsCLI) ListScheduled(ctx context.Context, size int) ([]*asynq.TaskInfo, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	return c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
}

func newJobsCommand(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Trigger and inspect background jobs",
	}

	var societyID int64
	trigger := &cobra.Command{
		Use:       "trigger <job>",
		Short:     "Enqueue a job immediately",
		Example:   "  societyctl jobs trigger " + jobs.TaskLedgerIntegrity + " --society 4",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{jobs.TaskBillsGenerateDue, jobs.TaskLedgerIntegrity},
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := env.openJobs()
			if err != nil {
				return err
			}
			defer queue.Close()
			info, err := queue.Trigger(cmd.Context(), args[0], societyID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
			return nil
		},
	}
	trigger.Flags().Int64Var(&societyID, "society", 0, "Limit "+jobs.TaskLedgerIntegrity+" to one society")
	cmd.AddCommand(trigger)

	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Show default queue depth",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := env.openJobs()
			if err != nil {
				return err
			}
			defer queue.Close()
			stats, err := queue.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		},
	})

	var size int
	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := env.openJobs()
			if err != nil {
				return err
			}
			defer queue.Close()
			tasks, err := queue.ListScheduled(cmd.Context(), size)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tasks) == 0 {
				fmt.Fprintln(out, "no scheduled tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Fprintf(out, "%s\t%s\t%s\tretried=%d\n", t.ID, t.Type, t.NextProcessAt.UTC().Format(time.RFC3339), t.Retried)
			}
			return nil
		},
	}
	scheduled.Flags().IntVar(&size, "size", 10, "Number of tasks to list")
	cmd.AddCommand(scheduled)

	return cmd
}
