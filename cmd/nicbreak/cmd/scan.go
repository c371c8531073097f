package cmd

import (
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"gitlab.com/stephen-fox/nicbreak/layout"
	"gitlab.com/stephen-fox/nicbreak/leak"
)

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("layout", "l", "", "layout file of the target build")
	scanCmd.MarkFlagRequired("layout")
}

var scanCmd = &cobra.Command{
	Use:   "scan DUMP...",
	Short: "Recover bases from captured receive buffers",
	Long: `Recover bases from captured receive buffers.

Each DUMP is a raw copy of one receive buffer. Buffers are scanned in
the order they are given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		layoutPath, _ := cmd.Flags().GetString("layout")

		l, err := layout.Load(layoutPath)
		if err != nil {
			return err
		}

		bufs := make([][]byte, len(args))
		for i, path := range args {
			bufs[i], err = os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read dump - %w", err)
			}

			log.WithField("size", humanize.Bytes(uint64(len(bufs[i])))).Debugf("read %s", path)
		}

		bases, err := leak.NewScanner(l.ScannerSignatures()).FindAll(bufs)
		if err != nil {
			return err
		}

		for _, kind := range leak.Kinds {
			fmt.Printf("%s\t0x%x\n", kind, bases.Get(kind))
		}

		return nil
	},
}
