package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	transports "github.com/rzbill/rookery/internal/cmd/client/transports"
)

// errLimitReached stops a tail once --limit events were printed.
var errLimitReached = errors.New("limit reached")

func getTransport(name string, baseURL BaseURLFunc) (transports.TailTransport, error) {
	switch name {
	case "sse", "":
		return transports.NewSSETransport(baseURL(), &http.Client{}), nil
	case "grpc":
		return transports.NewGrpcTransport(dialGRPCContext), nil
	default:
		return nil, fmt.Errorf("invalid --transport %q; use sse|grpc", name)
	}
}

// NewTailCommand constructs the `tail` command, which prints live
// measurements as JSON lines.
func NewTailCommand(baseURL BaseURLFunc) *cobra.Command {
	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow live measurements",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, _ := cmd.Flags().GetString("filter")
			name, _ := cmd.Flags().GetString("transport")
			limit, _ := cmd.Flags().GetInt("limit")

			t, err := getTransport(name, baseURL)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			err = t.Tail(cmd.Context(), filter, func(ev transports.Event) error {
				_ = enc.Encode(decodedEvent(ev))
				n++
				if limit > 0 && n >= limit {
					return errLimitReached
				}
				return nil
			})
			if errors.Is(err, errLimitReached) {
				return nil
			}
			return err
		},
	}
	tailCmd.Flags().String("filter", "", `CEL filter evaluated server-side, e.g. 'weight > 5.0 && id == "PNG-001"'`)
	tailCmd.Flags().String("transport", "sse", "Transport: sse|grpc")
	tailCmd.Flags().Int("limit", 0, "Stop after N events (0 = infinite)")
	return tailCmd
}
