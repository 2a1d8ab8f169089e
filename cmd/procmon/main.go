// Command procmon periodically prints a snapshot of a running corenet
// process's Prometheus metrics endpoint as plain text — a polling
// snapshot tool, not a charting dashboard.
package main

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	var metricsURL string
	var interval time.Duration
	var filter string

	root := &cobra.Command{
		Use:   "procmon",
		Short: "Poll a corenet process's /metrics endpoint and print a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(metricsURL, interval, filter)
		},
	}
	root.Flags().StringVar(&metricsURL, "url", "http://127.0.0.1:9090/metrics", "metrics endpoint")
	root.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval")
	root.Flags().StringVar(&filter, "prefix", "corenet_", "only print metric lines with this prefix")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(metricsURL string, interval time.Duration, filter string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		lines, err := fetch(client, metricsURL, filter)
		if err != nil {
			fmt.Fprintln(os.Stderr, "procmon: poll failed:", err)
		} else {
			fmt.Printf("--- %s ---\n", time.Now().Format(time.RFC3339))
			for _, l := range lines {
				fmt.Println(l)
			}
		}
		<-ticker.C
	}
}

func fetch(client *http.Client, url, prefix string) ([]string, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		if prefix != "" && !strings.HasPrefix(line, prefix) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return lines, nil
}
