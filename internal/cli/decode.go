// ABOUTME: decode command
// ABOUTME: Decodes a FLAC file into a WAV file locally or on a relay server
package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio/decode"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type decodeFlags struct {
	output string
	remote string
}

func newDecodeCmd(opts *options) *cobra.Command {
	flags := &decodeFlags{}
	cmd := &cobra.Command{
		Use:   "decode <input>",
		Short: "Decode a FLAC file to WAV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDecode(cmd, opts, flags, args[0])
		},
	}
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "output file (default is the input with a .wav extension)")
	cmd.Flags().StringVar(&flags.remote, "remote", "", "run the conversion on a relay server at host:port")
	return cmd
}

func defaultWAVPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".wav"
}

func runDecode(cmd *cobra.Command, opts *options, flags *decodeFlags, input string) error {
	output := flags.output
	if output == "" {
		output = defaultWAVPath(input)
	}
	if output == input {
		return fmt.Errorf("output %s would overwrite the input", output)
	}

	if flags.remote != "" {
		return runRemoteDecode(cmd, flags.remote, input, output)
	}

	logger := log.With().Str("component", "decode").Logger()
	fd, err := decode.NewFile(input, output, &logger)
	if err != nil {
		return fmt.Errorf("failed to start decoder: %w", err)
	}
	buf, err := fd.Process()
	if err != nil {
		return fmt.Errorf("decoding failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %dHz %dch %d-bit, %d samples (%s)\n",
		input, fd.OutputPath(), buf.Format.SampleRate, buf.Format.Channels, buf.Format.BitDepth,
		buf.Frames(), buf.Duration())
	return nil
}
