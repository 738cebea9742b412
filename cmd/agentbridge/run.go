package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agentbridge/agentbridge/provider"
)

var schemaArg string

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a prompt to completion and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext()
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		adapter, err := openAdapter(cfg)
		if err != nil {
			return err
		}
		thread, err := openThread(adapter)
		if err != nil {
			return err
		}
		defer func() { _ = adapter.Close(thread) }()

		runOpts, err := schemaOptions()
		if err != nil {
			return err
		}

		result, err := adapter.Run(ctx, thread, args[0], runOpts...)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&schemaArg, "schema", "", "JSON schema for structured output (inline JSON or @file)")
	rootCmd.AddCommand(runCmd)
}

// schemaOptions turns the --schema flag into run options. "@path" reads the
// schema from a file; anything else is inline JSON.
func schemaOptions() ([]provider.RunOption, error) {
	if schemaArg == "" {
		return nil, nil
	}
	raw := schemaArg
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(raw[1:])
		if err != nil {
			return nil, err
		}
		raw = string(data)
	}
	if !json.Valid([]byte(raw)) {
		return nil, fmt.Errorf("--schema is not valid JSON")
	}
	return []provider.RunOption{provider.WithOutputSchema(json.RawMessage(raw))}, nil
}
