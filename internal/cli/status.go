package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pendergraft/trustgate/pkg/client"
)

func createStatusCmd() *cobra.Command {
	var epoch string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status <address>",
		Short: "Show certification and whitelist status for a token",
		Long: `Show the aggregation and whitelist status of a token.

Queries the certification for the given epoch (default: current UTC
date) and the token's whitelist entry.

EXAMPLES:
  trustgate status 0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984

  # A specific epoch
  trustgate status 0x1f98...F984 --epoch 2026-08-30

  # Output as JSON
  trustgate status 0x1f98...F984 --json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(args[0], epoch, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&epoch, "epoch", "", "scoring epoch (default: current UTC date)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runStatus(address, epoch string, jsonOutput bool) error {
	ctx := context.Background()
	c := client.New(getServer(), getAPIKey())

	entry, err := c.GetWhitelistEntry(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to get whitelist entry: %w", err)
	}

	// A missing certification is normal before quorum; show what we have.
	cert, certErr := c.GetCertification(ctx, address, epoch)

	if jsonOutput {
		out := map[string]any{"whitelist": entry}
		if certErr == nil {
			out["certification"] = cert
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Printf("Token %s\n\n", address)

	fmt.Println("Whitelist:")
	fmt.Printf("  State:       %s\n", entry.State)
	fmt.Printf("  Whitelisted: %v\n", entry.IsWhitelisted)
	if entry.LastScore != "" {
		fmt.Printf("  Last score:  %s\n", truncateFieldElement(entry.LastScore))
	}
	if entry.LastUpdatedAt != "" {
		fmt.Printf("  Updated:     %s\n", entry.LastUpdatedAt)
	}
	fmt.Println()

	fmt.Println("Certification:")
	if certErr != nil {
		var apiErr *client.APIError
		if ok := asAPIError(certErr, &apiErr); ok && apiErr.Code == "QUORUM_NOT_MET" {
			fmt.Println("  (quorum not met for this epoch)")
		} else {
			fmt.Printf("  (unavailable: %v)\n", certErr)
		}
		return nil
	}

	fmt.Printf("  Status:  %s\n", cert.Status)
	fmt.Printf("  Epoch:   %s\n", cert.Epoch)
	fmt.Printf("  Quorum:  %d\n", cert.Quorum)
	fmt.Printf("  Vendors: %s\n", strings.Join(cert.VendorIDs, ", "))
	if cert.AgreedScore != "" {
		fmt.Printf("  Score:   %s\n", truncateFieldElement(cert.AgreedScore))
	}

	return nil
}

func asAPIError(err error, target **client.APIError) bool {
	apiErr, ok := err.(*client.APIError)
	if ok {
		*target = apiErr
	}
	return ok
}

// truncateFieldElement shortens a 0x-prefixed field element for display
func truncateFieldElement(v string) string {
	if len(v) <= 18 {
		return v
	}
	return v[:10] + "..." + v[len(v)-8:]
}
