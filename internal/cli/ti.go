package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTICmd создаёт группу команд для работы с task instances.
func NewTICmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ti",
		Short: "Inspect task instances",
	}

	cmd.AddCommand(
		newTIShowCmd(clientFn, outputFn),
		newTILogsCmd(clientFn, outputFn),
		newTIRenderedCmd(clientFn, outputFn),
		newTILinksCmd(clientFn, outputFn),
	)

	return cmd
}

func newTIShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var mapIndex int

	cmd := &cobra.Command{
		Use:   "show DAG_ID RUN_ID TASK_ID",
		Short: "Show task instance details",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			ti, err := client.GetInstance(args[0], args[1], args[2], mapIndex)
			if err != nil {
				return err
			}

			headers := []string{"TASK_ID", "MAP_INDEX", "STATE", "TRY", "POOL", "STARTED", "FINISHED", "ERROR"}
			rows := [][]string{{
				ti.TaskID,
				strconv.Itoa(ti.MapIndex),
				ti.State,
				fmt.Sprintf("%d/%d", ti.TryNumber, ti.MaxTries),
				ti.Pool,
				ti.StartedAt,
				ti.FinishedAt,
				ti.Error,
			}}

			out.Print(headers, rows, ti)
			return nil
		},
	}

	cmd.Flags().IntVar(&mapIndex, "map-index", -1, "Map index (-1 for unmapped tasks)")

	return cmd
}

func newTILogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var mapIndex int
	var tryNumber int
	var full bool

	cmd := &cobra.Command{
		Use:   "logs DAG_ID RUN_ID TASK_ID",
		Short: "Show task instance attempt log",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			content, err := client.GetLogs(args[0], args[1], args[2], LogsOpts{
				MapIndex:    mapIndex,
				TryNumber:   tryNumber,
				FullContent: full,
			})
			if err != nil {
				return err
			}

			if content.Truncated {
				out.Success(fmt.Sprintf("(log truncated, use --full for full content; try %d)", content.TryNumber))
			}
			out.Raw(content.Content)
			return nil
		},
	}

	cmd.Flags().IntVar(&mapIndex, "map-index", -1, "Map index (-1 for unmapped tasks)")
	cmd.Flags().IntVar(&tryNumber, "try-number", 0, "Attempt number (latest if not set)")
	cmd.Flags().BoolVar(&full, "full", false, "Return full log instead of the tail")

	return cmd
}

func newTIRenderedCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var mapIndex int

	cmd := &cobra.Command{
		Use:   "rendered DAG_ID RUN_ID TASK_ID",
		Short: "Show rendered config snapshot",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			rendered, err := client.GetRendered(args[0], args[1], args[2], mapIndex)
			if err != nil {
				return err
			}

			out.JSON(rendered)
			return nil
		},
	}

	cmd.Flags().IntVar(&mapIndex, "map-index", -1, "Map index (-1 for unmapped tasks)")

	return cmd
}

func newTILinksCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var mapIndex int

	cmd := &cobra.Command{
		Use:   "links DAG_ID RUN_ID TASK_ID [NAME]",
		Short: "List or resolve task extra links",
		Args:  cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if len(args) == 3 {
				names, err := client.ListLinks(args[0], args[1], args[2])
				if err != nil {
					return err
				}

				rows := make([][]string, len(names))
				for i, name := range names {
					rows[i] = []string{name}
				}
				out.Print([]string{"NAME"}, rows, names)
				return nil
			}

			link, err := client.ResolveLink(args[0], args[1], args[2], args[3], mapIndex)
			if err != nil {
				return err
			}

			out.Print([]string{"NAME", "URL"}, [][]string{{link.Name, link.URL}}, link)
			return nil
		},
	}

	cmd.Flags().IntVar(&mapIndex, "map-index", -1, "Map index (-1 for unmapped tasks)")

	return cmd
}
