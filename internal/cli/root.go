// ABOUTME: Cobra command tree for the flacrelay binary
// ABOUTME: Loads configuration, sets up logging and dispatches by file signature
package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/flacrelay/internal/config"
	"github.com/Resonate-Protocol/flacrelay/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// options shared by all commands
type options struct {
	configFile string
	envFile    string
	logLevel   string
	logFile    string

	cfg       *config.Config
	logCloser io.Closer
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	opts := &options{}
	enc := &encodeFlags{}

	root := &cobra.Command{
		Use:   "flacrelay [file]",
		Short: "Streaming FLAC encoder and decoder",
		Long: `Converts WAV files to FLAC and FLAC files to WAV through a streaming relay.

Given a file, the direction is chosen from its first four bytes: RIFF files
are encoded, fLaC files are decoded.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logCloser != nil {
				return opts.logCloser.Close()
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			kind, err := sniff(args[0])
			if err != nil {
				return err
			}
			switch kind {
			case kindWAV:
				return runEncode(cmd, opts, enc, args[0])
			default:
				return runDecode(cmd, opts, &decodeFlags{output: enc.output, remote: enc.remote}, args[0])
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "config file (default is ./flacrelay.yaml)")
	pf.StringVar(&opts.envFile, "env-file", "", "environment file (default is ./.env)")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	pf.StringVar(&opts.logFile, "log-file", "", "also append logs to this file")

	enc.register(root)

	root.AddCommand(
		newEncodeCmd(opts),
		newDecodeCmd(opts),
		newLiveCmd(opts),
		newServeCmd(opts),
		newDiscoverCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configFile, o.envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFile != "" {
		cfg.LogFile = o.logFile
	}

	closer, err := logging.Setup(cfg.LogLevel, cfg.LogFile, false)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logCloser = closer

	log.Debug().Str("command", cmd.Name()).Str("log_level", cfg.LogLevel).Msg("configuration loaded")
	return nil
}

type fileKind int

const (
	kindWAV fileKind = iota
	kindFLAC
)

// sniff classifies a file by its first four bytes
func sniff(path string) (fileKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return 0, fmt.Errorf("%s: unrecognized file format", path)
	}
	switch {
	case bytes.Equal(magic, []byte("RIFF")):
		return kindWAV, nil
	case bytes.Equal(magic, []byte("fLaC")):
		return kindFLAC, nil
	}
	return 0, fmt.Errorf("%s: unrecognized file format", path)
}
