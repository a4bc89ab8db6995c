// Command x402-cli is a manual end-to-end smoke-test tool: it drives the
// buyer package against a running gate to exercise the full 402-pay-retry
// flow from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/conflux-arena/x402-gateway/buyer"
)

func main() {
	var privateKey string
	var network string
	var timeout time.Duration

	root := &cobra.Command{
		Use:   "x402-cli",
		Short: "Manual smoke-test client for an x402-gated resource",
	}
	root.PersistentFlags().StringVar(&privateKey, "private-key", os.Getenv("DEMO_BUYER_KEY"), "hex-encoded buyer private key (default: DEMO_BUYER_KEY env var)")
	root.PersistentFlags().StringVar(&network, "network", "eip155:1030", "CAIP-2 network tag the offer must match")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 45*time.Second, "request timeout")

	addressCmd := &cobra.Command{
		Use:   "address",
		Short: "Print the buyer address derived from --private-key",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buyer.New(privateKey)
			if err != nil {
				return err
			}
			fmt.Println(c.Address().Hex())
			return nil
		},
	}

	payCmd := &cobra.Command{
		Use:   "pay <url>",
		Short: "GET url, pay the 402 challenge if one is returned, and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buyer.New(privateKey)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			resp, result, err := c.Pay(ctx, args[0], network)
			if err != nil {
				return err
			}
			defer buyer.DrainAndClose(resp)

			fmt.Printf("status: %d\n", resp.StatusCode)
			if result != nil {
				encoded, _ := json.MarshalIndent(result, "", "  ")
				fmt.Println(string(encoded))
			} else {
				fmt.Println("no payment was required")
			}
			return nil
		},
	}

	root.AddCommand(addressCmd, payCmd)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
