package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pendergraft/trustgate/pkg/client"
)

func createSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <attestation.json>",
		Short: "Submit an attestation for aggregation",
		Long: `Submit a previously generated attestation to the aggregation server.

The server verifies the proof, records the attestation, and certifies
the token once the vendor quorum agrees.

EXAMPLES:
  # Generate then submit
  trustgate evaluate 0x1f98...F984 -o attestation.json
  trustgate submit attestation.json
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubmit(args[0])
		},
	}

	return cmd
}

func runSubmit(path string) error {
	att, err := readAttestationFile(path)
	if err != nil {
		return err
	}

	c := client.New(getServer(), getAPIKey())
	ack, err := c.SubmitAttestation(context.Background(), *att)
	if err != nil {
		return fmt.Errorf("submitting attestation: %w", err)
	}

	fmt.Printf("✅ Attestation %s\n", ack.Status)
	fmt.Printf("   Vendor:  %s\n", ack.VendorID)
	fmt.Printf("   Address: %s\n", ack.Address)
	fmt.Printf("   Epoch:   %s\n", ack.Epoch)

	return nil
}

// readAttestationFile parses an attestation JSON file written by evaluate
func readAttestationFile(path string) (*client.Attestation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attestation: %w", err)
	}

	var att client.Attestation
	if err := json.Unmarshal(data, &att); err != nil {
		return nil, fmt.Errorf("parsing attestation: %w", err)
	}

	if att.Proof == nil {
		return nil, fmt.Errorf("attestation has no proof")
	}

	return &att, nil
}
