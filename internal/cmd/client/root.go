package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc provides the base HTTP API URL (e.g., from env or flag).
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command for the Rookery client.
// It registers the subject, upload, watch and tail commands.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "rookery",
		Short: "Rookery client commands",
	}
	AddCommands(root, baseURL)
	return root
}

// AddCommands registers the client commands on an existing root.
func AddCommands(root *cobra.Command, baseURL BaseURLFunc) {
	root.AddCommand(
		NewSubjectCommand(baseURL),
		NewUploadCommand(baseURL),
		NewWatchCommand(baseURL),
		NewTailCommand(baseURL),
	)
}
