package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewPoolCmd создаёт группу команд для управления пулами.
func NewPoolCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Manage pools",
	}

	cmd.AddCommand(
		newPoolListCmd(clientFn, outputFn),
		newPoolCreateCmd(clientFn, outputFn),
		newPoolShowCmd(clientFn, outputFn),
		newPoolSetCmd(clientFn, outputFn),
		newPoolDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var poolHeaders = []string{"NAME", "SLOTS", "OCCUPIED", "OPEN", "DESCRIPTION"}

func poolRow(p PoolResponse) []string {
	return []string{
		p.Name,
		strconv.Itoa(p.Slots),
		strconv.Itoa(p.OccupiedSlots),
		strconv.Itoa(p.OpenSlots),
		p.Description,
	}
}

func newPoolListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pools, err := client.ListPools()
			if err != nil {
				return err
			}

			rows := make([][]string, len(pools))
			for i, p := range pools {
				rows[i] = poolRow(p)
			}

			out.Print(poolHeaders, rows, pools)
			return nil
		},
	}
}

func newPoolCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var slots int
	var description string

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pool, err := client.CreatePool(CreatePoolRequest{
				Name:        args[0],
				Slots:       slots,
				Description: description,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pool created: %s", pool.Name))
			out.Print(poolHeaders, [][]string{poolRow(*pool)}, pool)
			return nil
		},
	}

	cmd.Flags().IntVar(&slots, "slots", 0, "Number of slots (required)")
	cmd.Flags().StringVar(&description, "description", "", "Pool description")
	cmd.MarkFlagRequired("slots")

	return cmd
}

func newPoolShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAME",
		Short: "Show pool details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			pool, err := client.GetPool(args[0])
			if err != nil {
				return err
			}

			out.Print(poolHeaders, [][]string{poolRow(*pool)}, pool)
			return nil
		},
	}
}

func newPoolSetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var slots int
	var description string

	cmd := &cobra.Command{
		Use:   "set NAME",
		Short: "Update pool slots or description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			req := UpdatePoolRequest{}
			if cmd.Flags().Changed("slots") {
				req.Slots = &slots
			}
			if cmd.Flags().Changed("description") {
				req.Description = &description
			}

			pool, err := client.UpdatePool(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pool updated: %s", pool.Name))
			out.Print(poolHeaders, [][]string{poolRow(*pool)}, pool)
			return nil
		},
	}

	cmd.Flags().IntVar(&slots, "slots", 0, "New number of slots")
	cmd.Flags().StringVar(&description, "description", "", "New description")

	return cmd
}

func newPoolDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeletePool(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pool deleted: %s", args[0]))
			return nil
		},
	}
}
