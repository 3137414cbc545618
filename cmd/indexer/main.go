package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	// Import bundled handlers to register them
	_ "github.com/goran-ethernal/BlockIndexor/examples/handlers/erc20"
	"github.com/goran-ethernal/BlockIndexor/internal/common"
	"github.com/goran-ethernal/BlockIndexor/internal/config"
	"github.com/goran-ethernal/BlockIndexor/internal/handler"
	"github.com/goran-ethernal/BlockIndexor/internal/indexer"
	"github.com/goran-ethernal/BlockIndexor/internal/logger"
	pkgconfig "github.com/goran-ethernal/BlockIndexor/pkg/config"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

var (
	configPath string
	heights    []string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "BlockIndexor - ordered blockchain indexing with a proof of index",
	Long: `BlockIndexor fetches blocks concurrently, applies them strictly in height
order through the configured handlers, commits the resulting entities
atomically per block and extends a Merkle Mountain Range over every committed
block hash. Chain reorganizations are rolled back automatically.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runIndexer,
}

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List available handler types",
	Long:  `List all registered handler types that can be bound to a data source in the configuration file.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available handler types:")
		names := handler.ListRegistered()
		if len(names) == 0 {
			fmt.Println("  (no handlers registered)")
			return
		}
		for _, name := range names {
			fmt.Printf("  - %s\n", name)
		}
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the configuration JSON schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := config.SchemaJSON()
		if err != nil {
			return err
		}

		fmt.Println(string(data))
		return nil
	},
}

var proofCmd = &cobra.Command{
	Use:   "proof",
	Short: "Print an MMR inclusion proof for committed heights",
	Long: `Open the store and the MMR named in the configuration, without connecting to
the chain, and print a proof that the given heights were committed under the
root recorded at the current watermark.`,
	Example: `  indexer proof -c config.yaml --height 19000000 --height 19000010`,
	RunE:    runProof,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	proofCmd.Flags().StringSliceVar(&heights, "height", nil, "block height to prove, decimal or 0x hex (repeatable)")
	_ = proofCmd.MarkFlagRequired("height")

	rootCmd.AddCommand(handlersCmd, schemaCmd, proofCmd)
}

func runIndexer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := newLogger(common.ComponentIndexer, cfg)
	defer log.Close() //nolint:errcheck

	log.Infow("starting BlockIndexor", "version", version, "config", configPath)

	idx, err := indexer.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create indexer: %w", err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Warnw("failed to close indexer", "error", err)
		}
	}()

	if err := idx.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("indexer failed: %w", err)
	}

	log.Info("BlockIndexor stopped")

	return nil
}

func runProof(cmd *cobra.Command, args []string) error {
	parsed, err := common.ParseHeights(heights)
	if err != nil {
		return err
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(common.ComponentMMR, cfg)

	storage, err := indexer.OpenStorage(cfg, log)
	if err != nil {
		return err
	}
	defer storage.Close()

	proof, err := storage.Prove(parsed)
	if err != nil {
		return err
	}

	if err := proof.Verify(); err != nil {
		return fmt.Errorf("generated proof does not verify: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")

	return enc.Encode(proof)
}

// newLogger builds the process logger. With a logging section every
// component logger gets its own configured level.
func newLogger(component string, cfg *pkgconfig.Config) *logger.Logger {
	if cfg.Logging == nil {
		return logger.NewComponentLoggerFromConfig(component, nil)
	}

	root, err := logger.NewFromConfig(cfg.Logging)
	if err != nil {
		return logger.NewComponentLoggerFromConfig(component, nil)
	}

	return root.WithComponent(component)
}
