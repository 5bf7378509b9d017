package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/civiclens/civiclens/internal/entity"
)

// newRouteCmd creates the 'route' subcommand: a one-shot bridge that reads
// a single request envelope from stdin, prints the response envelope to
// stdout and exits. The enrichment worker runs for the lifetime of the
// process and is given the configured stop timeout before exit.
func newRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Handle one request envelope from stdin",
		RunE:  runRouteCommand,
	}
}

func runRouteCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	raw, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return fmt.Errorf("read request from stdin: %w", err)
	}

	appInstance.Queue().Start()

	var resp entity.Response
	var req entity.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		resp = entity.Response{Success: false, Error: fmt.Sprintf("invalid request envelope: %v", err)}
	} else {
		resp = appInstance.Router().Route(cmd.Context(), req)
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	// Give queued enrichment work a bounded chance to drain before exit.
	appInstance.Queue().Stop(appInstance.Config().Background.StopTimeout)
	return nil
}
