// Konveyer CLI — инструмент командной строки для управления
// dags, runs, task instances и pools через HTTP API.
//
// Использование:
//
//	konveyer [--api-url URL] [--json] <command> <subcommand> [flags]
//
// Команды:
//
//	dag   Управление dags
//	run   Управление dag runs
//	ti    Task instances (логи, rendered config, links)
//	pool  Управление пулами
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaiso/Konveyer/internal/cli"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	rootCmd := &cobra.Command{
		Use:           "konveyer",
		Short:         "Konveyer CLI — dag scheduling and execution tool",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "API server URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }

	rootCmd.AddCommand(
		cli.NewDagCmd(clientFn, outputFn),
		cli.NewRunCmd(clientFn, outputFn),
		cli.NewTICmd(clientFn, outputFn),
		cli.NewPoolCmd(clientFn, outputFn),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
