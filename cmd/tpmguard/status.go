package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/omarluq/tpmguard/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bucket state of a running tpmguard server",
	Long: `Query the admin API of a running tpmguard server and print every bucket
with its ceiling and current balance.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("addr", "", "server address (default: server.listen from config)")
	rootCmd.AddCommand(statusCmd)
}

// bucketStatus is one row of GET /v1/buckets.
type bucketStatus struct {
	Key             string
	TokensPerMinute float64
	Available       float64
	Capacity        float64
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, err := cmd.Flags().GetString("addr")
	if err != nil {
		return fmt.Errorf("failed to get addr flag: %w", err)
	}
	if addr == "" {
		cfg, err := config.Load(configPath())
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.Server.Listen
	}

	baseURL := "http://" + dialAddr(addr)
	client := &http.Client{Timeout: 5 * time.Second}

	buckets, err := fetchBuckets(cmd.Context(), client, baseURL)
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ tpmguard is not reachable (%s)\n", addr)
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ tpmguard is running (%s)\n", addr)
	printBuckets(cmd.OutOrStdout(), buckets)
	return nil
}

// dialAddr turns a listen address into one a client can connect to.
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

// fetchBuckets reads the bucket list from the admin API.
func fetchBuckets(ctx context.Context, client *http.Client, baseURL string) ([]bucketStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/buckets", http.NoBody)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("server not reachable: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Logger.Warn().Err(closeErr).Msg("failed to close response body")
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error.message").String()
		return nil, fmt.Errorf("status request failed with %d: %s", resp.StatusCode, msg)
	}
	if !gjson.ValidBytes(body) {
		return nil, errors.New("status response is not JSON")
	}

	rows := gjson.GetBytes(body, "data").Array()
	buckets := make([]bucketStatus, 0, len(rows))
	for _, row := range rows {
		buckets = append(buckets, bucketStatus{
			Key:             row.Get("key").String(),
			TokensPerMinute: row.Get("tokens_per_minute").Float(),
			Available:       row.Get("available").Float(),
			Capacity:        row.Get("max_capacity").Float(),
		})
	}
	return buckets, nil
}

func printBuckets(w io.Writer, buckets []bucketStatus) {
	if len(buckets) == 0 {
		fmt.Fprintln(w, "  no buckets yet")
		return
	}
	for _, b := range buckets {
		fmt.Fprintf(w, "  %-24s %10.0f tpm  %10.1f / %.0f available\n",
			b.Key, b.TokensPerMinute, b.Available, b.Capacity)
	}
}
