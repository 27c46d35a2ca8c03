package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-close/internal/closing"
	"github.com/odyssey-erp/odyssey-close/jobs"
)

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector queueInspector
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string) (*JobsCLI, error) {
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	client, err := jobs.NewClient(opts)
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(opts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// EnqueueClosing queues a closing step for the worker.
func (c *JobsCLI) EnqueueClosing(ctx context.Context, req closing.Request, requestID string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueClosingRun(ctx, req, requestID)
}

// TriggerIntegrity queues a ledger integrity scan.
func (c *JobsCLI) TriggerIntegrity(ctx context.Context, limit int) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	return c.client.EnqueueLedgerIntegrity(ctx, limit)
}

// InspectQueues reports the closing and default queues. Queues that never
// received a task report zeros.
func (c *JobsCLI) InspectQueues(ctx context.Context) ([]QueueStats, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	queues := []string{jobs.QueueClosing, jobs.QueueDefault}
	out := make([]QueueStats, 0, len(queues))
	for _, name := range queues {
		stats := QueueStats{Queue: name}
		info, err := c.inspector.GetQueueInfo(name)
		if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, fmt.Errorf("jobs cli: inspect %s: %w", name, err)
		}
		if info != nil {
			stats.Pending = info.Pending
			stats.Active = info.Active
			stats.Scheduled = info.Scheduled
			stats.Retry = info.Retry
			stats.Archived = info.Archived
		}
		out = append(out, stats)
	}
	return out, nil
}

func newEnqueueCommand(state *rootState) *cobra.Command {
	var (
		flags     requestFlags
		requestID string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a closing step for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request("")
			if err != nil {
				return err
			}
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.Jobs == nil {
				return errors.New("closectl: job queue not configured")
			}
			if requestID == "" {
				requestID = uuid.NewString()
			}
			info, err := backend.Jobs.EnqueueClosing(cmd.Context(), req, requestID)
			if err != nil {
				return err
			}
			return state.printTask(cmd.OutOrStdout(), info, requestID)
		},
	}
	flags.bind(cmd, true)
	cmd.Flags().StringVar(&requestID, "request-id", "", "request id carried in the task payload (default random)")
	return cmd
}

func newQueuesCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "Show closing and maintenance queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := state.backendFor(cmd)
			if err != nil {
				return err
			}
			if backend.Jobs == nil {
				return errors.New("closectl: job queue not configured")
			}
			stats, err := backend.Jobs.InspectQueues(cmd.Context())
			if err != nil {
				return err
			}
			if state.asJSON {
				return state.printJSON(cmd.OutOrStdout(), stats)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tPENDING\tACTIVE\tSCHEDULED\tRETRY\tARCHIVED")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Pending, s.Active, s.Scheduled, s.Retry, s.Archived)
			}
			return tw.Flush()
		},
	}
}

func (s *rootState) printTask(w io.Writer, info *asynq.TaskInfo, requestID string) error {
	if s.asJSON {
		return s.printJSON(w, map[string]string{"task_id": info.ID, "queue": info.Queue, "request_id": requestID})
	}
	if requestID == "" {
		_, err := fmt.Fprintf(w, "queued %s on %s (task %s)\n", info.Type, info.Queue, info.ID)
		return err
	}
	_, err := fmt.Fprintf(w, "queued %s on %s (task %s, request %s)\n", info.Type, info.Queue, info.ID, requestID)
	return err
}
