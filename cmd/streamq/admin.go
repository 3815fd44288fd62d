package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// parseFields turns key=value arguments into entry fields.
func parseFields(args []string) (map[string]string, error) {
	fields := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q: expected key=value", arg)
		}
		fields[key] = value
	}
	return fields, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// streamArg picks the stream from the first argument or STREAM_KEY.
func (a *app) streamArg(args []string) string {
	if len(args) > 0 && args[0] != "" {
		return args[0]
	}
	return a.cfg.StreamKey
}

func newAddCommand(a *app) *cobra.Command {
	addCmd := &cobra.Command{
		Use:   "add key=value...",
		Short: "Append one entry to a stream",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := parseFields(args)
			if err != nil {
				return err
			}
			streamKey, _ := cmd.Flags().GetString("stream")
			if streamKey == "" {
				streamKey = a.cfg.StreamKey
			}

			q, err := a.newQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			id, err := q.Add(cmd.Context(), streamKey, fields)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"stream": streamKey, "id": id})
		},
	}
	addCmd.Flags().StringP("stream", "s", "", "Stream key (defaults to STREAM_KEY)")
	return addCmd
}

func newInfoCommand(a *app) *cobra.Command {
	infoCmd := &cobra.Command{
		Use:   "info [stream]",
		Short: "Show stream length and pending entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")

			q, err := a.newQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			info, err := q.Info(cmd.Context(), a.streamArg(args), group)
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
	infoCmd.Flags().StringP("group", "g", "", "Consumer group to report pending entries for")
	return infoCmd
}

func newTrimCommand(a *app) *cobra.Command {
	trimCmd := &cobra.Command{
		Use:   "trim [stream]",
		Short: "Cap a stream at roughly max-len entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			maxLen, _ := cmd.Flags().GetInt64("max-len")
			streamKey := a.streamArg(args)

			q, err := a.newQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			trimmed, err := q.Trim(cmd.Context(), streamKey, maxLen)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{"stream": streamKey, "trimmed": trimmed})
		},
	}
	trimCmd.Flags().Int64("max-len", 0, "Entries to keep")
	_ = trimCmd.MarkFlagRequired("max-len")
	return trimCmd
}

func newClaimCommand(a *app) *cobra.Command {
	claimCmd := &cobra.Command{
		Use:   "claim [stream]",
		Short: "Move idle pending entries to a consumer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			group, _ := cmd.Flags().GetString("group")
			consumer, _ := cmd.Flags().GetString("consumer")
			idle, _ := cmd.Flags().GetDuration("idle")
			if group == "" {
				group = a.cfg.ConsumerGroup
			}
			streamKey := a.streamArg(args)

			q, err := a.newQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			claimed, err := q.ClaimPending(cmd.Context(), streamKey, group, consumer, idle)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"stream":   streamKey,
				"group":    group,
				"consumer": consumer,
				"claimed":  claimed,
			})
		},
	}
	claimCmd.Flags().StringP("group", "g", "", "Consumer group (defaults to CONSUMER_GROUP)")
	claimCmd.Flags().StringP("consumer", "c", "", "Consumer receiving the entries")
	claimCmd.Flags().Duration("idle", time.Minute, "Minimum idle time of claimed entries")
	_ = claimCmd.MarkFlagRequired("consumer")
	return claimCmd
}
