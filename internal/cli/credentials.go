package cli

import (
	"bufio"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func newCredentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage stored timesheet credentials",
	}

	cmd.AddCommand(newCredentialsSetCmd())
	return cmd
}

func newCredentialsSetCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "set [userId] [username]",
		Short: "Store credentials for a user and unlock their sessions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, username := args[0], args[1]

			if password == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return fmt.Errorf("password must not be empty")
			}

			a, err := newAPI()
			if err != nil {
				return err
			}
			err = a.do(http.MethodPut, "/credentials/"+userID, map[string]string{
				"username": username,
				"password": password,
			}, nil)
			if err != nil {
				return err
			}
			fmt.Printf("credentials updated for %s\n", userID)
			return nil
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "password (prompted when omitted)")
	return cmd
}
