package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newCloseSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close-session [userId]",
		Short: "Close a user's browser session on the running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}
			if err := a.do(http.MethodPost, "/close-session/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("session closed for %s\n", args[0])
			return nil
		},
	}
}
