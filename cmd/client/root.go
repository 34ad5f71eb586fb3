package main

import (
	"fmt"
	"io"
	"time"

	"github.com/Wa4h1h/lockstep-tftp/pkg/client"
	"github.com/Wa4h1h/lockstep-tftp/pkg/resolver"
	"github.com/Wa4h1h/lockstep-tftp/pkg/types"
	"github.com/Wa4h1h/lockstep-tftp/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	port    uint16
	timeout uint
	retries int
	trace   bool
	level   string
}

type app struct {
	opts options
	l    *zap.SugaredLogger
	c    *client.Client
}

func newRootCmd(in io.Reader) *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "tftp [-p port] [server]",
		Short: "Trivial File Transfer Protocol client",
		Long: `tftp transfers files to and from a TFTP server in octet mode.
Without a subcommand it opens an interactive shell, connected to server
when one is given.`,
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: a.teardown,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if err := a.connect(cmd, args[0]); err != nil {
					return err
				}
			}

			return client.NewCli(a.l, a.c, in, cmd.OutOrStdout()).Read()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.Uint16VarP(&a.opts.port, "port", "p", types.DefaultPort, "server port")
	flags.UintVar(&a.opts.timeout, "timeout", timeout, "seconds to wait for the peer before giving up")
	flags.IntVar(&a.opts.retries, "retries", numTries, "times to resend the last packet after a timeout")
	flags.BoolVar(&a.opts.trace, "trace", false, "log every packet sent and received")
	flags.StringVar(&a.opts.level, "log-level", logLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "get <server> <source_file> [<dest_file>]",
			Short: "Download a file from the server",
			Args:  cobra.RangeArgs(2, 3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.transfer(cmd, args, a.c.Get, "Received")
			},
		},
		&cobra.Command{
			Use:   "put <server> <source_file> [<dest_file>]",
			Short: "Upload a file to the server",
			Args:  cobra.RangeArgs(2, 3),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.transfer(cmd, args, a.c.Put, "Sent")
			},
		},
	)

	return rootCmd
}

func (a *app) setup(_ *cobra.Command, _ []string) error {
	if a.opts.timeout == 0 {
		return fmt.Errorf("%w: timeout must be at least one second", utils.ErrInvalidArgument)
	}

	logger, err := utils.NewLogger(utils.LogConfig{
		Level:       a.opts.level,
		Format:      "console",
		Outputs:     []string{"stderr"},
		Development: true,
	})
	if err != nil {
		return err
	}

	a.l = logger.Sugar()
	a.c = client.NewClient(a.l, resolver.New(nil))
	a.c.SetTimeout(a.opts.timeout)
	a.c.SetRetries(a.opts.retries)

	if a.opts.trace {
		a.c.SetTrace()
	}

	return nil
}

func (a *app) teardown(_ *cobra.Command, _ []string) {
	if a.l != nil {
		_ = a.l.Sync()
	}
}

func (a *app) connect(cmd *cobra.Command, server string) error {
	if a.opts.port == 0 {
		return fmt.Errorf("%w: port 0", utils.ErrInvalidArgument)
	}

	if err := a.c.Connect(cmd.Context(), server, a.opts.port); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Exchanging files with server %s\n", a.c.Host())

	return nil
}

func (a *app) transfer(cmd *cobra.Command, args []string, op func(src, dest string) (int64, error), verb string) error {
	if err := a.connect(cmd, args[0]); err != nil {
		return err
	}

	src, dest := args[1], ""
	if len(args) == 3 {
		dest = args[2]
	}

	start := time.Now()

	n, err := op(src, dest)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %d bytes in %s (%s mode)\n",
		verb, n, time.Since(start).Round(time.Millisecond), types.ModeOctet)

	return nil
}
