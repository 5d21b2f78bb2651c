package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления dag runs.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage dag runs",
	}

	cmd.AddCommand(
		newRunListCmd(clientFn, outputFn),
		newRunTriggerCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunCancelCmd(clientFn, outputFn),
		newRunInstancesCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"RUN_ID", "STATE", "TYPE", "VERSION", "LOGICAL_DATE", "CREATED"}

func runRow(r DagRunResponse) []string {
	return []string{r.RunID, r.State, r.RunType, strconv.Itoa(r.Version), r.LogicalDate, r.CreatedAt}
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var state string
	var limit int

	cmd := &cobra.Command{
		Use:   "list DAG_ID",
		Short: "List dag runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(args[0], ListRunsOpts{
				State: state,
				Limit: limit,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			out.Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Filter by state (QUEUED, RUNNING, SUCCESS, FAILED)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var runID string
	var logicalDate string
	var conf []string

	cmd := &cobra.Command{
		Use:   "trigger DAG_ID",
		Short: "Trigger a manual dag run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := TriggerRunRequest{RunID: runID}

			if logicalDate != "" {
				t, err := time.Parse(time.RFC3339, logicalDate)
				if err != nil {
					return fmt.Errorf("invalid --logical-date, expected RFC3339: %w", err)
				}
				req.LogicalDate = &t
			}

			if len(conf) > 0 {
				req.Conf = make(map[string]any)
				for _, kv := range conf {
					parts := strings.SplitN(kv, "=", 2)
					if len(parts) != 2 {
						return fmt.Errorf("invalid conf format %q, expected KEY=VALUE", kv)
					}
					req.Conf[parts[0]] = parts[1]
				}
			}

			run, err := client.TriggerRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run triggered: %s", run.RunID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Custom run ID (generated if not set)")
	cmd.Flags().StringVar(&logicalDate, "logical-date", "", "Logical date in RFC3339 format")
	cmd.Flags().StringSliceVar(&conf, "conf", nil, "Conf values as KEY=VALUE (repeatable)")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show DAG_ID RUN_ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0], args[1])
			if err != nil {
				return err
			}

			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}
}

func newRunCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel DAG_ID RUN_ID",
		Short: "Cancel an unfinished run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.CancelRun(args[0], args[1])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run cancelled: %s", run.RunID))
			out.Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}
}

func newRunInstancesCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "instances DAG_ID RUN_ID",
		Short: "List task instances of a run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			instances, err := client.ListInstances(args[0], args[1])
			if err != nil {
				return err
			}

			headers := []string{"TASK_ID", "MAP_INDEX", "STATE", "TRY", "POOL", "HOSTNAME"}
			rows := make([][]string, len(instances))
			for i, ti := range instances {
				rows[i] = []string{
					ti.TaskID,
					strconv.Itoa(ti.MapIndex),
					ti.State,
					fmt.Sprintf("%d/%d", ti.TryNumber, ti.MaxTries),
					ti.Pool,
					ti.Hostname,
				}
			}

			out.Print(headers, rows, instances)
			return nil
		},
	}
}
