package cli

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/soyeahso/fichabot/internal/config"
	"github.com/soyeahso/fichabot/internal/version"
	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show fichabot status and configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("Fichabot %s (commit %s)\n\n", version.Version, version.Commit)

			cfg, err := config.Load(cfgFile)
			if err != nil {
				fmt.Printf("Config:   error loading: %v\n", err)
				return nil
			}

			auth := "disabled"
			if cfg.Gateway.AuthToken != "" {
				auth = "token"
			}
			fmt.Printf("Gateway:  port=%d bind=%s auth=%s\n", cfg.Gateway.Port, cfg.Gateway.Bind, auth)
			fmt.Printf("Pool:     maxSessions=%d timeout=%dm\n",
				cfg.Pool.MaxSessions, cfg.Pool.SessionTimeoutMinutes)
			fmt.Printf("Driver:   %s\n", cfg.Driver.BaseURL)
			fmt.Printf("Store:    %s\n", cfg.Store.Path)
			fmt.Println()

			a, err := newAPI()
			if err != nil {
				return nil
			}
			var health struct {
				Status  string `json:"status"`
				Version string `json:"version"`
				Clients int    `json:"clients"`
			}
			if err := a.do(http.MethodGet, "/health", nil, &health); err != nil {
				fmt.Println("Server:   not running")
				return nil
			}
			fmt.Printf("Server:   %s (version %s, %d feed clients)\n",
				health.Status, health.Version, health.Clients)

			var stats struct {
				ActiveSessions int      `json:"active_sessions"`
				MaxSessions    int      `json:"max_sessions"`
				Users          []string `json:"users"`
			}
			if err := a.do(http.MethodGet, "/stats", nil, &stats); err == nil {
				fmt.Printf("Sessions: %d/%d", stats.ActiveSessions, stats.MaxSessions)
				if len(stats.Users) > 0 {
					fmt.Printf(" (%s)", strings.Join(stats.Users, ", "))
				}
				fmt.Println()
			}
			return nil
		},
	}
}
