// ABOUTME: live command
// ABOUTME: Encodes a test tone or microphone capture to FLAC with a live statistics display
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Resonate-Protocol/flacrelay/internal/ui"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/encode"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/source"
	"github.com/Resonate-Protocol/flacrelay/pkg/relay"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type liveFlags struct {
	encodeFlags
	capture   bool
	duration  time.Duration
	frequency float64
	noTUI     bool
}

func newLiveCmd(opts *options) *cobra.Command {
	flags := &liveFlags{}
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Encode a live source to FLAC",
		Long: `Encodes a sine tone, or the default input device when built with
-tags portaudio, into a FLAC file while showing per-frame statistics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLive(cmd, opts, flags)
		},
	}
	flags.register(cmd)
	_ = cmd.Flags().MarkHidden("remote")
	cmd.Flags().BoolVar(&flags.capture, "capture", false, "record from the default input device")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "stop after this long (0 runs until quit)")
	cmd.Flags().Float64Var(&flags.frequency, "frequency", 440, "tone frequency in Hz")
	cmd.Flags().BoolVar(&flags.noTUI, "no-tui", false, "log progress instead of showing the TUI")
	return cmd
}

func runLive(cmd *cobra.Command, opts *options, flags *liveFlags) error {
	outputPath := flags.output
	if outputPath == "" {
		outputPath = "live.flac"
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	if flags.duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	var (
		src  source.Source
		name string
	)
	if flags.capture {
		c, err := source.NewCapture(ctx, 48000, 1, 1024)
		if err != nil {
			return err
		}
		src, name = c, "capture"
	} else {
		src = source.NewTone(source.ToneConfig{Frequency: flags.frequency, Duration: flags.duration})
		name = fmt.Sprintf("tone %.0fHz", flags.frequency)
	}
	defer src.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	var tui *ui.StreamTUI
	if !flags.noTUI {
		tui = ui.NewStreamTUI()
	}

	cfg := flags.config(cmd, opts)
	cfg.SampleRate = src.SampleRate()
	cfg.Channels = src.Channels()
	cfg.BitDepth = src.BitDepth()
	frameBytes := cfg.Channels * cfg.BitDepth / 8
	logger := log.With().Str("component", "live").Logger()
	cfg.Logger = &logger
	cfg.Push = relay.PushFunc(func(buf []byte, info relay.ChunkInfo) error {
		if _, err := out.Write(buf); err != nil {
			return err
		}
		if info.Samples == 0 {
			return nil
		}
		stat := ui.ChunkStat{
			Frame:        info.Frame,
			Samples:      info.Samples,
			RawBytes:     info.Samples * frameBytes,
			EncodedBytes: len(buf),
		}
		if tui != nil {
			tui.Chunk(stat)
		} else {
			logger.Debug().Uint64("frame", stat.Frame).Int("bytes", stat.EncodedBytes).Msg("frame encoded")
		}
		return nil
	})

	enc, err := encode.NewStream(cfg)
	if err != nil {
		return err
	}
	resolved := enc.Config()

	encodeLoop := func() error {
		buf := make([]int32, resolved.BlockSize*resolved.Channels)
		var err error
		for err == nil {
			if ctx.Err() != nil {
				break
			}
			var n int
			n, err = src.Read(buf)
			if n > 0 {
				if perr := enc.Process(buf[:n]); perr != nil {
					err = perr
				}
			}
			if !flags.capture && flags.duration == 0 {
				// an endless tone is paced to real time
				time.Sleep(time.Duration(n/resolved.Channels) * time.Second / time.Duration(resolved.SampleRate))
			}
		}
		if errors.Is(err, io.EOF) {
			err = nil
		}
		err = errors.Join(err, enc.Finish())
		if err == nil {
			_, err = out.WriteAt(enc.Header(), 0)
		}
		return err
	}

	if tui == nil {
		if err := encodeLoop(); err != nil {
			return err
		}
		st := enc.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s: %d samples, %d bytes\n", name, outputPath, st.SamplesPushed, st.BytesPushed)
		return nil
	}

	tui.Stream(ui.StreamMsg{
		Source:           name,
		SampleRate:       resolved.SampleRate,
		Channels:         resolved.Channels,
		BitDepth:         resolved.BitDepth,
		CompressionLevel: resolved.CompressionLevel,
		HeaderBytes:      len(enc.Header()),
	})

	done := make(chan error, 1)
	go func() {
		err := encodeLoop()
		tui.Done(err)
		done <- err
	}()
	go func() {
		select {
		case <-tui.QuitChan():
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := tui.Run(); err != nil {
		cancel()
		<-done
		return err
	}
	cancel()
	return <-done
}
