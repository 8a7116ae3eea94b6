package cmd

import (
	"fmt"

	"github.com/bosley/voechoal/device"
	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available audio input devices",
	Args:  cobra.NoArgs,
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	devices, err := device.ListInputDevices()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available audio input devices:")
	for _, d := range devices {
		fmt.Fprintf(out, "[%d] %s\n", d.ID, d.Name)
		fmt.Fprintf(out, "    Max Input Channels: %d\n", d.MaxInputChannels)
		fmt.Fprintf(out, "    Default Sample Rate: %f\n", d.DefaultSampleRate)
		fmt.Fprintln(out)
	}
	return nil
}
