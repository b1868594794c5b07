package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/centerstage/internal/capture"
	"github.com/spf13/cobra"
)

var camerasMax int

var camerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "List available cameras with their native resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		devices := capture.DefaultEnumerator().Enumerate(cmd.Context(), camerasMax)
		printCameras(os.Stdout, devices, Cfg.CameraIndex)
		return nil
	},
}

func init() {
	camerasCmd.Flags().IntVar(&camerasMax, "max", 10, "Highest device index to probe")
	rootCmd.AddCommand(camerasCmd)
}

func printCameras(out io.Writer, devices []capture.DeviceInfo, selected int) {
	if len(devices) == 0 {
		fmt.Fprintln(out, "No cameras found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "INDEX\tDEVICE\tNAME\tRESOLUTION\t")
	fmt.Fprintln(w, "-----\t------\t----\t----------\t")
	for _, d := range devices {
		mark := ""
		if d.Index == selected {
			mark = "*"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%dx%d\t%s\n", d.Index, d.Path, d.Name, d.Width, d.Height, mark)
	}
	w.Flush()
}
