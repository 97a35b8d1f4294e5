// ABOUTME: encode command
// ABOUTME: Encodes WAV, MP3 or FLAC input into a FLAC file locally or on a relay server
package cli

import (
	"fmt"

	"github.com/Resonate-Protocol/flacrelay/pkg/audio/encode"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/resample"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/source"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type encodeFlags struct {
	output           string
	compressionLevel int
	blockSize        int
	noVerify         bool
	sampleRate       int
	remote           string
}

func (f *encodeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.output, "output", "o", "", "output file (default is the input with a new extension)")
	fl.IntVar(&f.compressionLevel, "compression-level", encode.DefaultCompressionLevel, "FLAC compression level (0-8)")
	fl.IntVar(&f.blockSize, "block-size", 0, "FLAC block size in samples (default depends on the compression level)")
	fl.BoolVar(&f.noVerify, "no-verify", false, "skip decoding each frame to verify the encoder output")
	fl.IntVar(&f.sampleRate, "sample-rate", 0, "resample to this rate before encoding")
	fl.StringVar(&f.remote, "remote", "", "run the conversion on a relay server at host:port")
}

// config merges configuration values with the flags set on cmd
func (f *encodeFlags) config(cmd *cobra.Command, opts *options) encode.Config {
	cfg := encode.Config{
		CompressionLevel: opts.cfg.Encode.CompressionLevel,
		BlockSize:        opts.cfg.Encode.BlockSize,
		Verify:           opts.cfg.Encode.Verify,
		FinishTimeout:    opts.cfg.Relay.FinishTimeout,
	}
	if cmd.Flags().Changed("compression-level") {
		cfg.CompressionLevel = f.compressionLevel
	}
	if cmd.Flags().Changed("block-size") {
		cfg.BlockSize = f.blockSize
	}
	if f.noVerify {
		cfg.Verify = false
	}
	return cfg
}

func newEncodeCmd(opts *options) *cobra.Command {
	flags := &encodeFlags{}
	cmd := &cobra.Command{
		Use:   "encode <input>",
		Short: "Encode an audio file to FLAC",
		Long:  "Encode a WAV, MP3 or FLAC file to FLAC. The STREAMINFO block is completed once all frames are written.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd, opts, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func runEncode(cmd *cobra.Command, opts *options, flags *encodeFlags, input string) error {
	output := flags.output
	if output == "" {
		output = encode.DefaultOutputPath(input)
	}
	if output == input {
		return fmt.Errorf("output %s would overwrite the input", output)
	}

	src, err := openSource(input, flags.sampleRate)
	if err != nil {
		return err
	}

	cfg := flags.config(cmd, opts)
	if flags.remote != "" {
		defer src.Close()
		return runRemoteEncode(cmd, flags.remote, src, input, output)
	}

	logger := log.With().Str("component", "encode").Logger()
	cfg.Logger = &logger

	fe, err := encode.NewFileFromSource(src, output, cfg)
	if err != nil {
		src.Close()
		return fmt.Errorf("failed to start encoder: %w", err)
	}
	if err := fe.Process(); err != nil {
		return fmt.Errorf("encoding failed: %w", err)
	}

	resolved := fe.Encoder().Config()
	st := fe.Encoder().Stats()
	raw := st.SamplesPushed * int64(resolved.Channels*resolved.BitDepth/8)
	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d frames, %d samples, %d -> %d bytes (%.1f%%)\n",
		input, fe.OutputPath(), st.ChunksPushed-1, st.SamplesPushed, raw, st.BytesPushed, percent(st.BytesPushed, raw))
	return nil
}

// openSource opens input, resampled to sampleRate when it is set and differs
func openSource(input string, sampleRate int) (source.Source, error) {
	src, err := source.Open(input)
	if err != nil {
		return nil, err
	}
	if sampleRate <= 0 || sampleRate == src.SampleRate() {
		return src, nil
	}

	rs, err := resample.NewSource(src, sampleRate)
	if err != nil {
		src.Close()
		return nil, err
	}
	log.Debug().Int("from", src.SampleRate()).Int("to", sampleRate).Msg("resampling input")
	return rs, nil
}

func percent(part, whole int64) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) * 100 / float64(whole)
}
