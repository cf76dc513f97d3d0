package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var nodeID string

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, restartCmd)
	for _, c := range []*cobra.Command{startCmd, stopCmd, restartCmd} {
		c.Flags().StringVar(&nodeID, "node-id", "", "node id to operate on")
		_ = c.MarkFlagRequired("node-id")
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a node's MQTT subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			NodeID string `json:"node_id"`
			Status string `json:"status"`
		}
		if err := apiCall("POST", "/nodes/"+nodeID+"/start", &result); err != nil {
			return fmt.Errorf("start %s: %w", nodeID, err)
		}
		fmt.Printf("node %s: %s\n", result.NodeID, result.Status)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a node's MQTT subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			NodeID string `json:"node_id"`
			Status string `json:"status"`
		}
		if err := apiCall("POST", "/nodes/"+nodeID+"/stop", &result); err != nil {
			return fmt.Errorf("stop %s: %w", nodeID, err)
		}
		fmt.Printf("node %s: %s\n", result.NodeID, result.Status)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart a node's MQTT subscription",
	RunE: func(cmd *cobra.Command, args []string) error {
		var result struct {
			NodeID string `json:"node_id"`
			Status string `json:"status"`
		}
		if err := apiCall("POST", "/nodes/"+nodeID+"/restart", &result); err != nil {
			return fmt.Errorf("restart %s: %w", nodeID, err)
		}
		fmt.Printf("node %s: %s\n", result.NodeID, result.Status)
		return nil
	},
}
