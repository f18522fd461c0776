package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gpumon/gpumon/internal/config"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the connectable hosts parsed from the SSH config",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := buildSession(cmd)
		if err != nil {
			return err
		}

		entries, err := config.Hosts(sess.sshConfig)
		if err != nil {
			return err
		}
		details, err := config.Describe(sess.sshConfig, entries)
		if err != nil {
			return err
		}

		return writeHostsTable(os.Stdout, details)
	},
}

func writeHostsTable(out io.Writer, details []config.HostDetails) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ALIAS\tHOSTNAME\tUSER\tPORT")
	for _, d := range details {
		user := d.User
		if user == "" {
			user = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", d.Alias, d.Hostname, user, d.Port)
	}
	return w.Flush()
}

func init() {
	rootCmd.AddCommand(hostsCmd)
}
