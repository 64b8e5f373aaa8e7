package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/api"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	FlowToken string
	Kind      string // optional - filter to one event kind
}

// EventsResult holds the events output.
type EventsResult struct {
	FlowToken string          `json:"flow_token,omitempty"`
	Events    []api.EventView `json:"events"`
	Kinds     map[string]int  `json:"kinds"`
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the event log",
		Long: `Show the event log in seq order, optionally for one flow.

Every committed command appends its events under one flow token; delivered
outbox entries append under the same flow.

Examples:
  packsale events
  packsale events --flow 0190f5a4-... --verbose
  packsale events --kind pack.mint --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FlowToken, "flow", "", "flow token to show")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "filter to one event kind")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)

	result := EventsResult{FlowToken: opts.FlowToken, Events: []api.EventView{}, Kinds: map[string]int{}}
	err := withSession(ctx, opts.RootOptions, opts.logger(cmd.ErrOrStderr(), slog.LevelWarn), func(s *session) error {
		events, err := s.engine.Events(ctx, opts.FlowToken)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		for _, ev := range api.NewEventViews(events) {
			if opts.Kind != "" && ev.Kind != opts.Kind {
				continue
			}
			result.Events = append(result.Events, ev)
			result.Kinds[ev.Kind]++
		}
		return nil
	})
	if err != nil {
		return f.Fail(err)
	}

	if opts.Format == "json" {
		return json.NewEncoder(cmd.OutOrStdout()).Encode(CLIResponse{Status: "ok", Data: result})
	}
	return outputEventsText(cmd.OutOrStdout(), result, opts.Verbose)
}

// outputEventsText prints the events as a timeline.
func outputEventsText(w io.Writer, result EventsResult, verbose bool) error {
	if len(result.Events) == 0 {
		if result.FlowToken != "" {
			fmt.Fprintf(w, "No events found for flow: %s\n", result.FlowToken)
		} else {
			fmt.Fprintln(w, "No events found.")
		}
		return nil
	}

	fmt.Fprintln(w, "=== Timeline ===")
	for _, ev := range result.Events {
		fmt.Fprintf(w, "  [%d] %-16s %s\n", ev.Seq, ev.Kind, truncateID(ev.Flow))
		var payload map[string]any
		if err := json.Unmarshal(ev.Payload, &payload); err == nil {
			fmt.Fprintf(w, "       %s\n", formatArgs(payload))
		}
		if verbose {
			fmt.Fprintf(w, "       ID: %s  Digest: %s\n", truncateID(ev.ID), truncateID(ev.Digest))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Kinds ===")
	kinds := make([]string, 0, len(result.Kinds))
	for k := range result.Kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-16s %d\n", k, result.Kinds[k])
	}
	fmt.Fprintf(w, "  Total Events: %d\n", len(result.Events))
	return nil
}

// formatArgs formats a map for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return formatArgs(val)
	case []any:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
