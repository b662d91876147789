package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pendergraft/trustgate/pkg/client"
)

func createThresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Whitelist threshold commands",
	}

	cmd.AddCommand(createThresholdGetCmd())
	cmd.AddCommand(createThresholdSetCmd())

	return cmd
}

func createThresholdGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the whitelist submission threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(getServer(), getAPIKey())
			threshold, err := c.GetThreshold(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get threshold: %w", err)
			}
			fmt.Println(threshold.Value)
			return nil
		},
	}
}

func createThresholdSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <value>",
		Short: "Update the whitelist submission threshold",
		Long: `Update the score threshold new submissions are judged against.

Existing whitelist entries keep their state; the new threshold applies
only to submissions that arrive after the change. Requires an API key.

EXAMPLES:
  trustgate threshold set 0x1a2b...
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := client.New(getServer(), getAPIKey())
			threshold, err := c.UpdateThreshold(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to update threshold: %w", err)
			}
			fmt.Printf("✅ Threshold updated to %s\n", threshold.Value)
			return nil
		},
	}

	return cmd
}
