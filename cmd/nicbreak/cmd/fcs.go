package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"gitlab.com/stephen-fox/nicbreak/fcs"
)

func init() {
	rootCmd.AddCommand(fcsCmd)

	fcsCmd.Flags().StringP("target", "t", "", "32-bit value the controller must write after the frame")
	fcsCmd.Flags().StringP("output", "o", "", "write the patched frame here instead of in place")
	fcsCmd.MarkFlagRequired("target")
}

var fcsCmd = &cobra.Command{
	Use:   "fcs FILE",
	Short: "Patch a frame so that its check sequence stores a chosen value",
	Long: `Patch a frame so that its check sequence stores a chosen value.

The last four bytes of FILE are replaced. When the controller appends
the frame check sequence, the four bytes it stores read back as the
little-endian value given by --target.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targetStr, _ := cmd.Flags().GetString("target")
		output, _ := cmd.Flags().GetString("output")

		target, err := strconv.ParseUint(strings.TrimPrefix(targetStr, "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("invalid target %q - %w", targetStr, err)
		}

		frame, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read frame - %w", err)
		}

		err = fcs.Forge(frame, fcs.StoredTarget(uint32(target)))
		if err != nil {
			return err
		}

		if output == "" {
			output = args[0]
		}

		err = os.WriteFile(output, frame, 0o644)
		if err != nil {
			return fmt.Errorf("failed to write frame - %w", err)
		}

		stored := fcs.Stored(fcs.Sum(frame))
		log.WithFields(log.Fields{
			"patch":  hex.EncodeToString(frame[len(frame)-fcs.TrailerSize:]),
			"stored": hex.EncodeToString(stored[:]),
		}).Info("patched frame")

		return nil
	},
}
