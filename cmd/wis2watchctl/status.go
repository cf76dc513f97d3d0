package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

type statusEntry struct {
	NodeID         string    `json:"node_id"`
	State          string    `json:"state"`
	Healthy        bool      `json:"healthy"`
	MessagesTotal  int64     `json:"messages_total"`
	MessagesPerMin int       `json:"messages_per_min"`
	LastMessageAt  time.Time `json:"last_message_at"`
	LastError      string    `json:"last_error"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the health of every node running on the target instance",
	RunE: func(cmd *cobra.Command, args []string) error {
		var entries []statusEntry
		if err := apiCall("GET", "/status", &entries); err != nil {
			return fmt.Errorf("status: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("no nodes running")
			return nil
		}
		for _, e := range entries {
			health := "healthy"
			if !e.Healthy {
				health = "unhealthy"
			}
			fmt.Printf("%-20s %-14s %-10s msgs=%d (%d/min)", e.NodeID, e.State, health, e.MessagesTotal, e.MessagesPerMin)
			if e.LastError != "" {
				fmt.Printf(" last_error=%q", e.LastError)
			}
			fmt.Println()
		}
		return nil
	},
}
