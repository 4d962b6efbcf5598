package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/config"
	"github.com/mosiyuan/cis/internal/node"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Exit codes per spec.md §6.
const (
	exitOK                = 0
	exitGenericFailure    = 1
	exitConfigRejected    = 2
	exitIdentityMismatch  = 3
	exitStorageCorruption = 4
)

var (
	configPath string
	verbose    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the node and block until signaled",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to the node's YAML config file (required)")
	serveCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	telemetry.Init(level, isTerminal())
	log := telemetry.Component("cisd")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("configuration rejected")
		os.Exit(exitConfigRejected)
	}

	mnemonic, fingerprint, err := loadIdentitySeeds(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to load identity seed material")
		os.Exit(exitGenericFailure)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	n, err := node.New(ctx, cfg, mnemonic, fingerprint, nil)
	if err != nil {
		exitFor(log, err)
	}

	if err := n.Start(ctx); err != nil {
		exitFor(log, err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := n.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown did not complete cleanly")
		os.Exit(exitGenericFailure)
	}
	return nil
}

// exitFor maps a construction/startup failure's cerr.Kind to the exit
// codes spec.md §6 assigns, then terminates the process.
func exitFor(log zerolog.Logger, err error) {
	kind, _ := cerr.KindOf(err)
	switch kind {
	case cerr.Identity:
		log.Error().Err(err).Msg("identity binding mismatch")
		os.Exit(exitIdentityMismatch)
	case cerr.Storage:
		log.Error().Err(err).Msg("storage error at startup")
		os.Exit(exitStorageCorruption)
	case cerr.Config:
		log.Error().Err(err).Msg("configuration rejected")
		os.Exit(exitConfigRejected)
	default:
		log.Error().Err(err).Msg("startup failed")
		os.Exit(exitGenericFailure)
	}
}

// loadIdentitySeeds resolves the mnemonic and hardware fingerprint
// Bind needs. The mnemonic is read from <data_dir>/identity/mnemonic,
// generated once on first run; the fingerprint comes from
// /etc/machine-id, falling back to the hostname on systems without
// one, per spec.md §3's "hardware fingerprint" concept.
func loadIdentitySeeds(cfg *config.Config) (mnemonic, fingerprint string, err error) {
	mnemonic, err = loadOrCreateMnemonic(filepath.Join(cfg.Storage.DataDir, "identity", "mnemonic"))
	if err != nil {
		return "", "", err
	}
	fingerprint, err = hardwareFingerprint()
	if err != nil {
		return "", "", err
	}
	return mnemonic, fingerprint, nil
}

func loadOrCreateMnemonic(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return string(raw), nil
	}
	if !os.IsNotExist(err) {
		return "", fmt.Errorf("read mnemonic: %w", err)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	mnemonic := hex.EncodeToString(buf)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", fmt.Errorf("create identity dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(mnemonic), 0o600); err != nil {
		return "", fmt.Errorf("write mnemonic: %w", err)
	}
	return mnemonic, nil
}

func hardwareFingerprint() (string, error) {
	if raw, err := os.ReadFile("/etc/machine-id"); err == nil {
		return string(raw), nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("resolve hardware fingerprint: %w", err)
	}
	return host, nil
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
