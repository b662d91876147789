package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/trustgate/pkg/client"
)

func createWhitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Whitelist commands",
	}

	cmd.AddCommand(createWhitelistSubmitCmd())
	cmd.AddCommand(createWhitelistListCmd())

	return cmd
}

func createWhitelistSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <attestation.json>",
		Short: "Submit a proof for whitelist evaluation",
		Long: `Submit an attestation's proof and public outputs for whitelist
evaluation.

The server verifies the proof against the current circuit keys and
transitions the token's whitelist state based on the score and the
current threshold.

EXAMPLES:
  trustgate evaluate 0x1f98...F984 -o attestation.json
  trustgate whitelist submit attestation.json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhitelistSubmit(args[0])
		},
	}

	return cmd
}

func createWhitelistListCmd() *cobra.Command {
	var state string
	var whitelistedOnly bool
	var limit int
	var cursor string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List whitelist entries",
		Long: `List tokens tracked by the whitelist.

EXAMPLES:
  # List all entries
  trustgate whitelist list

  # Only whitelisted tokens
  trustgate whitelist list --whitelisted

  # Filter by state
  trustgate whitelist list --state delisted

  # Output as JSON
  trustgate whitelist list --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhitelistList(state, whitelistedOnly, limit, cursor, jsonOutput)
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by state (unlisted, whitelisted, delisted)")
	cmd.Flags().BoolVar(&whitelistedOnly, "whitelisted", false, "only whitelisted tokens")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of items to show")
	cmd.Flags().StringVar(&cursor, "cursor", "", "pagination cursor from a previous page")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func runWhitelistSubmit(path string) error {
	att, err := readAttestationFile(path)
	if err != nil {
		return err
	}

	c := client.New(getServer(), getAPIKey())
	entry, err := c.SubmitWhitelist(context.Background(), client.WhitelistSubmission{
		Address:      att.Address,
		Score:        att.Score,
		Signature:    att.Signature,
		AddressPart1: att.AddressPart1,
		AddressPart2: att.AddressPart2,
		Proof:        att.Proof,
	})
	if err != nil {
		return fmt.Errorf("submitting to whitelist: %w", err)
	}

	fmt.Printf("✅ Submission accepted\n")
	fmt.Printf("   Address:     %s\n", entry.Address)
	fmt.Printf("   State:       %s\n", entry.State)
	fmt.Printf("   Whitelisted: %v\n", entry.IsWhitelisted)

	return nil
}

func runWhitelistList(state string, whitelistedOnly bool, limit int, cursor string, jsonOutput bool) error {
	c := client.New(getServer(), getAPIKey())

	opts := client.ListWhitelistOptions{
		State:  state,
		Limit:  limit,
		Cursor: cursor,
	}
	if whitelistedOnly {
		t := true
		opts.Whitelisted = &t
	}

	resp, err := c.ListWhitelist(context.Background(), opts)
	if err != nil {
		return fmt.Errorf("failed to list whitelist: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Entries) == 0 {
		fmt.Println("No whitelist entries found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tSTATE\tWHITELISTED\tUPDATED")
	for _, e := range resp.Entries {
		fmt.Fprintf(w, "%s\t%s\t%v\t%s\n", truncateAddress(e.Address), e.State, e.IsWhitelisted, e.LastUpdatedAt)
	}
	w.Flush()

	if resp.HasMore {
		fmt.Printf("\n(more available, continue with --cursor %s)\n", resp.NextCursor)
	}

	return nil
}
