// ABOUTME: Remote conversions through a relay server
// ABOUTME: Streams local files to the server and writes the returned audio
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Resonate-Protocol/flacrelay/internal/client"
	"github.com/Resonate-Protocol/flacrelay/internal/protocol"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/output"
	"github.com/Resonate-Protocol/flacrelay/pkg/audio/source"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	remoteReadFrames = 4096
	remoteChunkBytes = 64 * 1024
)

func runRemoteEncode(cmd *cobra.Command, addr string, src source.Source, input, outputPath string) error {
	format := audio.Format{
		Codec:      audio.CodecPCM,
		SampleRate: src.SampleRate(),
		Channels:   src.Channels(),
		BitDepth:   src.BitDepth(),
	}

	c := client.NewClient(client.Config{ServerAddr: addr, Mode: protocol.ModeEncode, Format: format})
	if err := c.Connect(cmd.Context()); err != nil {
		return err
	}
	defer c.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		buf := make([]int32, remoteReadFrames*format.Channels)
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := src.Read(buf)
			if n > 0 {
				data, perr := audio.PackSamples(buf[:n], format.BitDepth)
				if perr != nil {
					return perr
				}
				if serr := c.Send(data); serr != nil {
					return serr
				}
			}
			if errors.Is(err, io.EOF) {
				return c.End()
			}
			if err != nil {
				return err
			}
		}
	})

	var fin *protocol.StreamFinished
	g.Go(func() error {
		var err error
		fin, err = c.Receive(client.Handler{
			OnChunk: func(data []byte) error {
				_, err := out.Write(data)
				return err
			},
		})
		return err
	})

	err = g.Wait()
	if err == nil && len(fin.Header) > 0 {
		_, err = out.WriteAt(fin.Header, 0)
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("remote encoding failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s via %s: %d samples, %d -> %d bytes (%.1f%%), md5 %s\n",
		input, outputPath, addr, fin.Samples, fin.BytesIn, fin.BytesOut, percent(fin.BytesOut, fin.BytesIn), fin.MD5)
	return nil
}

func runRemoteDecode(cmd *cobra.Command, addr, input, outputPath string) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()

	c := client.NewClient(client.Config{ServerAddr: addr, Mode: protocol.ModeDecode})
	if err := c.Connect(cmd.Context()); err != nil {
		return err
	}
	defer c.Close()

	wav := output.NewWAV(outputPath)
	var format protocol.AudioFormat

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		return c.SendAll(ctx, in, remoteChunkBytes)
	})

	var fin *protocol.StreamFinished
	g.Go(func() error {
		var err error
		fin, err = c.Receive(client.Handler{
			OnFormat: func(f protocol.AudioFormat) error {
				format = f
				return wav.Open(f.SampleRate, f.Channels, f.BitDepth)
			},
			OnChunk: func(data []byte) error {
				samples, err := audio.UnpackSamples(data, format.BitDepth)
				if err != nil {
					return err
				}
				return wav.Write(samples)
			},
		})
		return err
	})

	err = g.Wait()
	if cerr := wav.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("remote decoding failed: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s via %s: %dHz %dch %d-bit, %d samples\n",
		input, outputPath, addr, format.SampleRate, format.Channels, format.BitDepth, fin.Samples)
	return nil
}
