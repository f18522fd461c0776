package cli

import (
	"fmt"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/gpumon/gpumon/internal/ui/watch"
)

var watchInterval time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously refresh the fleet report in a full-screen view",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := buildSession(cmd)
		if err != nil {
			return err
		}
		if len(sess.aliases) == 0 {
			return fmt.Errorf("no connectable hosts in %s", sess.sshConfig)
		}

		m := watch.New(sess.monitor, watchInterval, longFlag)
		_, err = tea.NewProgram(m).Run()
		return err
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 10*time.Second, "time between refreshes")
	watchCmd.Flags().BoolVarP(&longFlag, "long", "l", false, "per-GPU detail blocks instead of the gauge table")
	rootCmd.AddCommand(watchCmd)
}
