package cli

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/shaiso/Konveyer/internal/dagfile"
)

// NewDagCmd создаёт группу команд для управления dags.
func NewDagCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dag",
		Short: "Manage dags",
	}

	cmd.AddCommand(
		newDagListCmd(clientFn, outputFn),
		newDagShowCmd(clientFn, outputFn),
		newDagApplyCmd(clientFn, outputFn),
		newDagPauseCmd(clientFn, outputFn),
		newDagUnpauseCmd(clientFn, outputFn),
		newDagVersionsCmd(clientFn, outputFn),
	)

	return cmd
}

var dagHeaders = []string{"DAG_ID", "PAUSED", "SCHEDULE", "NEXT_DUE", "CREATED"}

func dagRow(d DagResponse) []string {
	schedule := d.CronExpr
	if schedule == "" && d.IntervalSec > 0 {
		schedule = fmt.Sprintf("every %ds", d.IntervalSec)
	}
	if schedule == "" {
		schedule = "-"
	}
	return []string{d.DagID, strconv.FormatBool(d.IsPaused), schedule, d.NextDueAt, d.CreatedAt}
}

func newDagListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var paused string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dags",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			opts := ListDagsOpts{Limit: limit}
			if cmd.Flags().Changed("paused") {
				b, err := strconv.ParseBool(paused)
				if err != nil {
					return fmt.Errorf("invalid value for --paused: %s", paused)
				}
				opts.IsPaused = &b
			}

			dags, err := client.ListDags(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(dags))
			for i, d := range dags {
				rows[i] = dagRow(d)
			}

			out.Print(dagHeaders, rows, dags)
			return nil
		},
	}

	cmd.Flags().StringVar(&paused, "paused", "", "Filter by paused state (true/false)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newDagShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show DAG_ID",
		Short: "Show dag details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			dag, err := client.GetDag(args[0])
			if err != nil {
				return err
			}

			out.Print(dagHeaders, [][]string{dagRow(*dag)}, dag)
			return nil
		},
	}
}

// newDagApplyCmd регистрирует dag из YAML-файла: создаёт dag, если его нет,
// иначе публикует новую версию спецификации и обновляет расписание.
func newDagApplyCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Register a dag (or a new version) from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			df, err := dagfile.Load(file)
			if err != nil {
				return err
			}

			dag, spec, err := df.ToDomain()
			if err != nil {
				return err
			}

			specJSON, err := json.Marshal(spec)
			if err != nil {
				return fmt.Errorf("failed to marshal spec: %w", err)
			}

			existing, err := client.GetDag(dag.DagID)
			if err != nil && !IsNotFound(err) {
				return err
			}

			if err != nil {
				// Нового dag ещё нет — регистрируем с первой версией
				created, err := client.CreateDag(CreateDagRequest{
					DagID:          dag.DagID,
					Description:    dag.Description,
					CronExpr:       dag.CronExpr,
					IntervalSec:    dag.IntervalSec,
					Timezone:       dag.Timezone,
					MaxActiveRuns:  dag.MaxActiveRuns,
					MaxActiveTasks: dag.MaxActiveTasks,
					IsPaused:       dag.IsPaused,
					Spec:           specJSON,
				})
				if err != nil {
					return err
				}

				out.Success(fmt.Sprintf("Dag created: %s", created.DagID))
				out.Print(dagHeaders, [][]string{dagRow(*created)}, created)
				return nil
			}

			version, err := client.CreateVersion(existing.DagID, specJSON)
			if err != nil {
				return err
			}

			updated, err := client.UpdateDag(existing.DagID, UpdateDagRequest{
				Description:    &dag.Description,
				CronExpr:       &dag.CronExpr,
				IntervalSec:    &dag.IntervalSec,
				Timezone:       &dag.Timezone,
				MaxActiveRuns:  &dag.MaxActiveRuns,
				MaxActiveTasks: &dag.MaxActiveTasks,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Version %d published for dag %s", version.Version, version.DagID))
			out.Print(dagHeaders, [][]string{dagRow(*updated)}, updated)
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to dag YAML file (required)")
	cmd.MarkFlagRequired("file")

	return cmd
}

func newDagPauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "pause DAG_ID",
		Short: "Pause dag scheduling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			dag, err := client.SetPaused(args[0], true)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Dag paused: %s", dag.DagID))
			out.Print(dagHeaders, [][]string{dagRow(*dag)}, dag)
			return nil
		},
	}
}

func newDagUnpauseCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "unpause DAG_ID",
		Short: "Resume dag scheduling",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			dag, err := client.SetPaused(args[0], false)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Dag unpaused: %s", dag.DagID))
			out.Print(dagHeaders, [][]string{dagRow(*dag)}, dag)
			return nil
		},
	}
}

func newDagVersionsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "versions DAG_ID",
		Short: "List dag versions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			versions, err := client.ListVersions(args[0])
			if err != nil {
				return err
			}

			headers := []string{"DAG_ID", "VERSION", "CREATED"}
			rows := make([][]string, len(versions))
			for i, v := range versions {
				rows[i] = []string{v.DagID, strconv.Itoa(v.Version), v.CreatedAt}
			}

			out.Print(headers, rows, versions)
			return nil
		},
	}
}
