package cmd

import (
	"github.com/ipop-project/tincan/std/utils"
	tincan "github.com/ipop-project/tincan/tincan/cmd"
	"github.com/spf13/cobra"
)

const banner = `
  _   _
 | |_(_)_ __   ___ __ _ _ __
 | __| | '_ \ / __/ _' | '_ \
 | |_| | | | | (_| (_| | | | |
  \__|_|_| |_|\___\__,_|_| |_|

IPOP Overlay Link and Frame-Routing Daemon
`

var CmdRoot = &cobra.Command{
	Use:     "tincan",
	Short:   "IPOP Overlay Link and Frame-Routing Daemon",
	Long:    banner[1:],
	Version: utils.TincanVersion,
}

func init() {
	cobra.EnableCommandSorting = false
	CmdRoot.Root().CompletionOptions.HiddenDefaultCmd = true
	CmdRoot.PersistentFlags().BoolP("help", "h", false, "Print usage")
	CmdRoot.PersistentFlags().Lookup("help").Hidden = true

	CmdRoot.AddGroup(&cobra.Group{ID: "run", Title: "Daemon"})
	tincan.CmdTincan.Use = "run CONFIG-FILE"
	tincan.CmdTincan.Short = "Start the tincan daemon"
	CmdRoot.AddCommand(tincan.CmdTincan)

	CmdRoot.AddGroup(&cobra.Group{ID: "ctl", Title: "Control Tools"})
	CmdRoot.AddCommand(tincan.CmdCtl())
}
