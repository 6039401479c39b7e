package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/wine-identify/internal/monitoring"
)

var statusURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show breaker, budget and session status of a running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		url := statusURL
		if url == "" {
			url = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		}
		snap, err := fetchStatus(cmd.Context(), url)
		if err != nil {
			return err
		}
		printStatus(cmd, snap)
		return nil
	},
}

func fetchStatus(ctx context.Context, baseURL string) (*monitoring.MetricsSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/status", nil)
	if err != nil {
		return nil, eris.Wrap(err, "status: build request")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "status: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("status: server returned %d", resp.StatusCode)
	}
	var snap monitoring.MetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, eris.Wrap(err, "status: decode")
	}
	return &snap, nil
}

func printStatus(cmd *cobra.Command, snap *monitoring.MetricsSnapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "collected:  %s\n", snap.CollectedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "sessions:   %d\n", snap.ActiveSessions)
	fmt.Fprintf(out, "requests:   %d / %d (%.1f%%)\n", snap.Budget.Requests, snap.Budget.DailyRequests, snap.RequestFraction*100)
	fmt.Fprintf(out, "cost:       $%.2f / $%.2f (%.1f%%)\n", snap.Budget.CostUSD, snap.Budget.DailyCostUSD, snap.CostFraction*100)
	fmt.Fprintf(out, "breakers:   %d open of %d\n", snap.OpenBreakers, len(snap.Breakers))
	for _, b := range snap.Breakers {
		fmt.Fprintf(out, "  %-40s %-9s failures=%d\n", b.Key, b.State, b.Failures)
	}
}

func init() {
	statusCmd.Flags().StringVar(&statusURL, "url", "", "server base URL (default localhost on the configured port)")
	rootCmd.AddCommand(statusCmd)
}
