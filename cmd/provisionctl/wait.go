package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/server/endpoints"
)

// waitCmd represents the wait command
var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait for the provisioner server to be ready",
	Long: `Wait for the provisioner server to be ready by polling the status endpoint.

This command will repeatedly check the server status until it responds
successfully or the maximum number of retries is reached. With --valid it
also waits until the server reports a configuration that enables
provisioning.

Example:
  provisionctl wait
  provisionctl wait --port 3000 --retries 60 --valid`,
	Run: func(cmd *cobra.Command, args []string) {
		port, _ := cmd.Flags().GetInt("port")
		retries, _ := cmd.Flags().GetInt("retries")
		valid, _ := cmd.Flags().GetBool("valid")

		url := fmt.Sprintf("http://localhost:%d/status", port)
		if err := waitForServer(url, retries, valid, time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Server did not become ready: %v\n", err)
			os.Exit(1)
		}

		fmt.Println("Provisioner server is ready")
	},
}

func init() {
	rootCmd.AddCommand(waitCmd)
	waitCmd.Flags().IntP("port", "p", defaultPortInt(), "Server port to check")
	waitCmd.Flags().IntP("retries", "r", 90, "Number of retries")
	waitCmd.Flags().Bool("valid", false, "Also wait for a valid configuration")
}

func waitForServer(url string, retries int, requireValid bool, interval time.Duration) error {
	client := &http.Client{Timeout: 2 * time.Second}

	var last string
	for i := 0; i < retries; i++ {
		ready, reason := checkStatus(client, url, requireValid)
		if ready {
			return nil
		}
		last = reason
		time.Sleep(interval)
	}

	return fmt.Errorf("not ready after %d attempts: %s", retries, last)
}

func checkStatus(client *http.Client, url string, requireValid bool) (bool, string) {
	resp, err := client.Get(url)
	if err != nil {
		return false, err.Error()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return false, resp.Status
	}
	if !requireValid {
		return true, ""
	}

	var status endpoints.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, err.Error()
	}
	if !status.ConfigValid {
		return false, status.ConfigError
	}
	return true, ""
}
