package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"meshforge/pkg/alloc"
	"meshforge/pkg/config"
	"meshforge/pkg/deploy"
	"meshforge/pkg/orchestrator"
	"meshforge/pkg/store"
)

var (
	specFile string
	verbose  bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshforge",
		Short: "Mesh overlay artifact generator",
		Long: `Derives per-node artifacts for a mesh overlay network from a declarative
specification: a unique overlay address per node, a certificate authority with
per-node certificates, and a canonical configuration document per node.`,
	}

	rootCmd.PersistentFlags().StringVarP(&specFile, "spec", "s", "network.yaml", "network spec file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		planCmd(),
		generateCmd(),
		runsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func planCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the address allocation for a network spec",
		Long:  `Runs the allocator only and prints the node-to-address mapping the full pipeline would use. No keys are generated and nothing is written.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := config.Load(specFile)
			if err != nil {
				return err
			}
			assignment, err := alloc.Allocate(spec.Subnet, spec.Nodes)
			if err != nil {
				return fmt.Errorf("address allocation failed: %w", err)
			}
			fmt.Println(renderPlanTable(spec, assignment))
			return nil
		},
	}
}

func generateCmd() *cobra.Command {
	var (
		outDir  string
		dataDir string
		rekey   bool
		export  bool
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate all artifacts for a network spec",
		Long: `Runs the full pipeline: allocate addresses, create the certificate
authority, issue one certificate per node, render one config document per
node, and write everything to the output directory.

Re-running generate for a network that already has a recorded run replaces
the trust anchor for every node. That is a re-keying operation and must be
confirmed with --rekey.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(verbose)
			defer logger.Sync()

			spec, err := config.Load(specFile)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = spec.SanitizedCAName()
			}

			ledger, err := store.Open(dataDir)
			if err != nil {
				return err
			}
			defer ledger.Close()

			last, err := ledger.LastRun(spec.SanitizedCAName())
			if err != nil {
				return err
			}
			if last != nil {
				if !rekey {
					return fmt.Errorf("network %q was already generated on %s; regenerating replaces the trust anchor for every node, pass --rekey to confirm",
						spec.SanitizedCAName(), last.CreatedAt.Format(time.RFC3339))
				}
				logger.Warn("re-keying network",
					zap.String("network", spec.SanitizedCAName()),
					zap.String("previous_fingerprint", last.CAFingerprint),
					zap.Time("previous_run", last.CreatedAt))
			}

			set, err := orchestrator.New(logger).Run(spec)
			if err != nil {
				return err
			}

			writer := deploy.NewWriter(outDir, logger)
			if err := writer.WriteAll(set); err != nil {
				return err
			}
			if export {
				for _, name := range set.Names() {
					if _, err := writer.ExportNode(name, spec.CAFilePrefix()); err != nil {
						return err
					}
				}
			}

			run, err := ledger.RecordRun(set)
			if err != nil {
				return err
			}

			fmt.Println(renderGenerateSummary(set, run, outDir))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory (default: the CA name)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for the run ledger")
	cmd.Flags().BoolVar(&rekey, "rekey", false, "confirm replacing the network's trust anchor")
	cmd.Flags().BoolVar(&export, "export", false, "also export a zip bundle per node")
	return cmd
}

func runsCmd() *cobra.Command {
	var dataDir string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded generation runs for a network spec",
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := config.Load(specFile)
			if err != nil {
				return err
			}
			ledger, err := store.Open(dataDir)
			if err != nil {
				return err
			}
			defer ledger.Close()

			runs, err := ledger.Runs(spec.SanitizedCAName())
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Printf("No recorded runs for network %q\n", spec.SanitizedCAName())
				return nil
			}
			fmt.Println(renderRunsTable(runs))
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "./data", "directory for the run ledger")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("meshforge v0.1.0")
		},
	}
}

func setupLogger(verbose bool) *zap.Logger {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		config.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, _ := config.Build()
	return logger
}
