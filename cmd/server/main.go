package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Wa4h1h/lockstep-tftp/pkg/config"
	"github.com/Wa4h1h/lockstep-tftp/pkg/server"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "tftpd",
	Short:         "Trivial File Transfer Protocol server",
	Long:          `tftpd serves files from a base directory over TFTP in octet mode.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (default: $TFTP_CONFIG, ./tftpd.yaml or ~/.tftp/tftpd.yaml)")
}

func run(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	if err := utils.EnsureDir(cfg.BaseDir); err != nil {
		return err
	}

	logger, err := utils.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	defer func() { _ = logger.Sync() }()

	l := logger.Sugar()
	s := server.NewServer(l, cfg)

	addr, err := s.Listen()
	if err != nil {
		return err
	}

	l.Infof("listening on %s, serving %s with %d workers", addr, cfg.BaseDir, cfg.Workers)

	served := make(chan error, 1)

	go func() {
		served <- s.Serve()
	}()

	select {
	case <-ctx.Done():
		l.Info("shutting down")

		return multierr.Append(s.Close(), <-served)
	case err := <-served:
		return multierr.Append(err, s.Close())
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
