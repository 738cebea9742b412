package main

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentbridge/agentbridge/event"
)

var streamCmd = &cobra.Command{
	Use:   "stream <prompt>",
	Short: "Run a prompt and print canonical events as NDJSON",
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

		stream, err := adapter.RunStreamed(ctx, thread, args[0], runOpts...)
		if err != nil {
			return err
		}
		defer func() { _ = stream.Close() }()

		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()

		var runErr error
		for {
			ev, err := stream.Next(ctx)
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return err
			}
			frame, err := event.Marshal(ev)
			if err != nil {
				return err
			}
			if _, err := out.Write(append(frame, '\n')); err != nil {
				return err
			}
			if failure, ok := ev.(event.Error); ok {
				runErr = failure.Err()
			}
			if ev.EventKind() == event.KindDone {
				runErr = nil
			}
		}
		return runErr
	},
}

func init() {
	rootCmd.AddCommand(streamCmd)
}
