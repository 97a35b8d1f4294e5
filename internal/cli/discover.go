// ABOUTME: discover command
// ABOUTME: Lists relay servers advertised over mDNS
package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Resonate-Protocol/flacrelay/internal/discovery"
	"github.com/spf13/cobra"
)

func newDiscoverCmd(opts *options) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find relay servers on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := discovery.Browse(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No relay servers found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tADDRESS\tINFO")
			for _, s := range servers {
				fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Addr(), strings.Join(s.Info, " "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to wait for responses")
	return cmd
}
