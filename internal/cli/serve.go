// ABOUTME: serve command
// ABOUTME: Runs the websocket relay service until interrupted
package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/flacrelay/internal/server"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *options) *cobra.Command {
	var (
		port   int
		name   string
		noMDNS bool
	)
	enc := &encodeFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket relay service",
		Long: `Serves /decode (FLAC in, PCM out) and /encode (PCM in, FLAC out) websocket
sessions and advertises the service over mDNS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := opts.cfg.Server
			if cmd.Flags().Changed("port") {
				sc.Port = port
			}
			if name != "" {
				sc.Name = name
			}
			if noMDNS {
				sc.EnableMDNS = false
			}
			ec := enc.config(cmd, opts)

			srv := server.New(server.Config{
				Port:             sc.Port,
				Name:             sc.Name,
				EnableMDNS:       sc.EnableMDNS,
				CompressionLevel: ec.CompressionLevel,
				BlockSize:        ec.BlockSize,
				Verify:           ec.Verify,
				FinishTimeout:    ec.FinishTimeout,
			})

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)
			go func() {
				select {
				case <-sigChan:
					srv.Stop()
				case <-cmd.Context().Done():
					srv.Stop()
				}
			}()

			return srv.Start()
		},
	}

	cmd.Flags().IntVar(&port, "port", 8928, "listen port")
	cmd.Flags().StringVar(&name, "name", "", "service name (default is <hostname>-flacrelay)")
	cmd.Flags().BoolVar(&noMDNS, "no-mdns", false, "disable mDNS advertisement")
	cmd.Flags().IntVar(&enc.compressionLevel, "compression-level", 5, "FLAC compression level for encode sessions")
	cmd.Flags().IntVar(&enc.blockSize, "block-size", 0, "FLAC block size for encode sessions")
	cmd.Flags().BoolVar(&enc.noVerify, "no-verify", false, "skip verification in encode sessions")
	return cmd
}
