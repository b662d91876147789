package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/consensys/gnark/backend/groth16"
	"github.com/spf13/cobra"

	"github.com/pendergraft/trustgate/internal/circuit"
	"github.com/pendergraft/trustgate/internal/marketdata"
	scoringDomain "github.com/pendergraft/trustgate/internal/scoring/domain"
	"github.com/pendergraft/trustgate/pkg/client"
)

func createEvaluateCmd() *cobra.Command {
	var epoch string
	var keysDir string
	var vendorID string
	var keyVersion string
	var outputFile string
	var submit bool

	var offline bool
	var daysAgoAdded uint64
	var active bool
	var volume uint64
	var marketCap uint64
	var totalSupply uint64
	var hasSource bool

	cmd := &cobra.Command{
		Use:   "evaluate <address>",
		Short: "Score a token and generate a proved attestation",
		Long: `Fetch metrics for a token, compute its trust score inside the circuit,
and generate a zero-knowledge proof of the computation.

The raw metrics never leave this machine; the attestation reveals only
the score, the signature, and the token address split.

Metrics come from Etherscan and CoinMarketCap (set ETHERSCAN_API_KEY
and CMC_API_KEY), or pass --offline with explicit metric flags.

EXAMPLES:
  # Evaluate with live market data
  trustgate evaluate 0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984

  # Evaluate and submit to the aggregation server
  trustgate evaluate 0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984 --submit

  # Evaluate with operator-supplied metrics
  trustgate evaluate 0x1f98...F984 --offline --days-ago 365 --active \
    --volume 100000 --market-cap 1000000 --total-supply 10000000 --has-source
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(evaluateOptions{
				address:    args[0],
				epoch:      epoch,
				keysDir:    keysDir,
				vendorID:   vendorID,
				keyVersion: keyVersion,
				outputFile: outputFile,
				submit:     submit,
				offline:    offline,
				metrics: circuit.RawMetrics{
					DaysAgoAdded:  daysAgoAdded,
					IsActive:      active,
					Volume:        volume,
					MarketCap:     marketCap,
					TotalSupply:   totalSupply,
					HasSourceCode: hasSource,
				},
			})
		},
	}

	cmd.Flags().StringVar(&epoch, "epoch", "", "scoring epoch (default: current UTC date)")
	cmd.Flags().StringVar(&keysDir, "keys-dir", "", "directory with proving.key and bounds.json (default from config)")
	cmd.Flags().StringVar(&vendorID, "vendor-id", "", "vendor identifier (default from config)")
	cmd.Flags().StringVar(&keyVersion, "key-version", "", "circuit key version (default from config)")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write attestation JSON to file (default: stdout)")
	cmd.Flags().BoolVar(&submit, "submit", false, "submit the attestation to the server")

	cmd.Flags().BoolVar(&offline, "offline", false, "use explicit metric flags instead of market data APIs")
	cmd.Flags().Uint64Var(&daysAgoAdded, "days-ago", 0, "days since the token was first listed")
	cmd.Flags().BoolVar(&active, "active", false, "token is actively traded")
	cmd.Flags().Uint64Var(&volume, "volume", 0, "24h trading volume in USD")
	cmd.Flags().Uint64Var(&marketCap, "market-cap", 0, "market capitalization in USD")
	cmd.Flags().Uint64Var(&totalSupply, "total-supply", 0, "total token supply")
	cmd.Flags().BoolVar(&hasSource, "has-source", false, "contract source is verified")

	return cmd
}

type evaluateOptions struct {
	address    string
	epoch      string
	keysDir    string
	vendorID   string
	keyVersion string
	outputFile string
	submit     bool
	offline    bool
	metrics    circuit.RawMetrics
}

func runEvaluate(opts evaluateOptions) error {
	projectConfig := loadProjectConfigSilent()

	vendorID := opts.vendorID
	if vendorID == "" {
		vendorID = os.Getenv("TRUSTGATE_VENDOR_ID")
	}
	if vendorID == "" && projectConfig != nil {
		vendorID = projectConfig.VendorID
	}
	if vendorID == "" {
		return fmt.Errorf("vendor ID not set (use --vendor-id, TRUSTGATE_VENDOR_ID, or trustgate.toml)")
	}

	keyVersion := opts.keyVersion
	if keyVersion == "" && projectConfig != nil {
		keyVersion = projectConfig.KeyVersion
	}
	if keyVersion == "" {
		keyVersion = "v1.0.0"
	}

	keysDir := opts.keysDir
	if keysDir == "" && projectConfig != nil {
		keysDir = projectConfig.KeysDir
	}
	if keysDir == "" {
		keysDir = "./keys"
	}

	system, pk, err := loadProver(keysDir)
	if err != nil {
		return err
	}

	var provider marketdata.Provider
	if !opts.offline {
		provider = marketdata.NewClient(os.Getenv("ETHERSCAN_API_KEY"), os.Getenv("CMC_API_KEY"))
	}

	impl, err := scoringDomain.NewService(vendorID, keyVersion, provider, system, pk)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	svc := scoringDomain.LoggingMiddleware(logger)(impl)

	ctx := context.Background()
	req := scoringDomain.EvaluateRequest{Address: opts.address, Epoch: opts.epoch}

	var att *scoringDomain.Attestation
	if opts.offline {
		att, err = svc.EvaluateMetrics(ctx, req, opts.metrics)
	} else {
		att, err = svc.Evaluate(ctx, req)
	}
	if err != nil {
		return fmt.Errorf("evaluating token: %w", err)
	}

	data, err := json.MarshalIndent(att, "", "  ")
	if err != nil {
		return err
	}

	if opts.outputFile != "" {
		if err := os.WriteFile(opts.outputFile, append(data, '\n'), 0644); err != nil {
			return fmt.Errorf("writing attestation: %w", err)
		}
		fmt.Printf("✅ Attestation written to %s\n", opts.outputFile)
	} else {
		fmt.Println(string(data))
	}

	if score, err := att.NormalizedScore(); err == nil {
		fmt.Fprintf(os.Stderr, "Normalized score: %.6f\n", score)
	}

	if opts.submit {
		c := client.New(getServer(), getAPIKey())
		ack, err := c.SubmitAttestation(ctx, attestationToWire(att))
		if err != nil {
			return fmt.Errorf("submitting attestation: %w", err)
		}
		fmt.Printf("✅ Attestation %s for %s@%s\n", ack.Status, truncateAddress(ack.Address), ack.Epoch)
	}

	return nil
}

// loadProver loads the circuit artifacts a vendor proves with. The bounds
// must match the ones the server compiled the verifying key from.
func loadProver(keysDir string) (*circuit.System, groth16.ProvingKey, error) {
	boundsData, err := os.ReadFile(filepath.Join(keysDir, "bounds.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading bounds.json (run 'trustgate-server circuit export' first): %w", err)
	}

	var bounds circuit.Bounds
	if err := json.Unmarshal(boundsData, &bounds); err != nil {
		return nil, nil, fmt.Errorf("parsing bounds.json: %w", err)
	}

	system, err := circuit.Compile(bounds)
	if err != nil {
		return nil, nil, fmt.Errorf("compiling circuit: %w", err)
	}

	pkData, err := os.ReadFile(filepath.Join(keysDir, "proving.key"))
	if err != nil {
		return nil, nil, fmt.Errorf("reading proving.key: %w", err)
	}

	pk, err := circuit.UnmarshalProvingKey(pkData)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing proving.key: %w", err)
	}

	return system, pk, nil
}

func attestationToWire(att *scoringDomain.Attestation) client.Attestation {
	wire := client.Attestation{
		VendorID:     att.VendorID,
		Address:      att.Address,
		Epoch:        att.Epoch,
		Score:        att.Score,
		Signature:    att.Signature,
		AddressPart1: att.AddressPart1,
		AddressPart2: att.AddressPart2,
	}
	if att.Proof != nil {
		wire.Proof = &client.Proof{
			Curve:  att.Proof.Curve,
			Scheme: att.Proof.Scheme,
			Data:   att.Proof.Data,
		}
	}
	return wire
}
