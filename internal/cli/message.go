package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func newMessageCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "message [text]",
		Short: "Send a message to the running server and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newAPI()
			if err != nil {
				return err
			}

			var out struct {
				Results []json.RawMessage `json:"results"`
			}
			err = a.do(http.MethodPost, "/message", map[string]string{
				"userId": user,
				"text":   strings.Join(args, " "),
			}, &out)
			if err != nil {
				return err
			}

			for _, raw := range out.Results {
				var text string
				if json.Unmarshal(raw, &text) == nil {
					fmt.Println(text)
					continue
				}
				// Structured result: print the question and its options.
				var q struct {
					Type       string `json:"type"`
					Project    string `json:"project"`
					Candidates []struct {
						FullPath   string  `json:"fullPath"`
						TotalHours float64 `json:"totalHours"`
					} `json:"candidates"`
				}
				if json.Unmarshal(raw, &q) == nil && q.Type != "" {
					if q.Type == "needs_confirmation" {
						fmt.Printf("¿Usar la línea existente de %s?\n", q.Project)
					} else {
						fmt.Printf("¿A qué %s te refieres?\n", q.Project)
					}
					for i, c := range q.Candidates {
						fmt.Printf("  %d. %s\n", i+1, c.FullPath)
					}
					continue
				}
				fmt.Println(string(raw))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "cli", "user ID to send the message as")
	return cmd
}
