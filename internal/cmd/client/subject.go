package client

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

// NewSubjectCommand constructs the `subject` command group.
func NewSubjectCommand(baseURL BaseURLFunc) *cobra.Command {
	subjectCmd := &cobra.Command{Use: "subject", Short: "Current penguin selection"}
	subjectCmd.AddCommand(newSubjectSetCommand(baseURL))
	return subjectCmd
}

// newSubjectSetCommand constructs `subject set <id>`, which changes the
// penguin attributed to measurements that carry no id.
func newSubjectSetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "set <id>",
		Short: "Set the penguin currently on the scale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, _ := json.Marshal(map[string]string{"id": strings.TrimSpace(args[0])})
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
				strings.TrimRight(baseURL(), "/")+"/update-penguin-id", bytes.NewReader(b))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			resp, err := httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			return printResponse(cmd.OutOrStdout(), resp)
		},
	}
}
