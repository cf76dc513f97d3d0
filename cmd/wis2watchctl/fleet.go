package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(startAllCmd, stopAllCmd)
}

type fleetResult struct {
	NodeID string `json:"node_id"`
	Owned  bool   `json:"owned,omitempty"`
	Error  string `json:"error,omitempty"`
}

var startAllCmd = &cobra.Command{
	Use:   "start-all",
	Short: "Start every active, eligible node (one this instance already runs is restarted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var results []fleetResult
		if err := apiCall("POST", "/nodes/start-all", &results); err != nil {
			return fmt.Errorf("start-all: %w", err)
		}
		for _, r := range results {
			switch {
			case r.Error != "":
				fmt.Printf("%s: error: %s\n", r.NodeID, r.Error)
			case r.Owned:
				fmt.Printf("%s: started\n", r.NodeID)
			default:
				fmt.Printf("%s: owned by another instance\n", r.NodeID)
			}
		}
		return nil
	},
}

var stopAllCmd = &cobra.Command{
	Use:   "stop-all",
	Short: "Stop every node running in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		var results []fleetResult
		if err := apiCall("POST", "/nodes/stop-all", &results); err != nil {
			return fmt.Errorf("stop-all: %w", err)
		}
		for _, r := range results {
			if r.Error != "" {
				fmt.Printf("%s: error: %s\n", r.NodeID, r.Error)
				continue
			}
			fmt.Printf("%s: stopped\n", r.NodeID)
		}
		return nil
	},
}
