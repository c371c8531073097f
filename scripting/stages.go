package scripting

import (
	"bufio"
	"io"
	"os"

	"github.com/apex/log"
)

// StageCtl allows users to split a sequence of steps into stages
// which are reflected as output to a log.Interface (the apex/log
// package logger by default).
type StageCtl struct {
	// Goto optionally specifies a stage number to pause
	// execution at until a newline is received on Input.
	// For example, setting this field to 2 means that
	// the second stage will block until a newline
	// is provided.
	//
	// The stage number is incremented by one each time
	// Next is called.
	Goto int

	// Logger may be specified to override the logging
	// behavior.
	Logger log.Interface

	// Input is read when pausing at the Goto stage.
	// It defaults to os.Stdin.
	Input io.Reader

	num      int
	prevDesc string
	input    *bufio.Reader
}

func (o *StageCtl) logger() log.Interface {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Log
}

// Current returns the number of the stage that is executing,
// or zero if Next was never called.
func (o *StageCtl) Current() int {
	return o.num
}

// Next increments the stage counter by one and writes a log
// message containing an optional description.
func (o *StageCtl) Next(description ...string) {
	logger := o.logger()

	o.Done()

	o.num++
	o.prevDesc = ""
	if len(description) > 0 {
		o.prevDesc = description[0]
	}

	logger.WithField("stage", o.num).Infof("starting: %s", o.prevDesc)

	if o.Goto != o.num {
		return
	}

	logger.Info("press enter to continue")
	o.waitForNewline()
}

// Done logs the completion of the current stage, if any.
func (o *StageCtl) Done() {
	if o.num == 0 {
		return
	}

	o.logger().WithField("stage", o.num).Debugf("executed: %s", o.prevDesc)
}

func (o *StageCtl) waitForNewline() {
	if o.input == nil {
		in := o.Input
		if in == nil {
			in = os.Stdin
		}
		o.input = bufio.NewReader(in)
	}

	_, err := o.input.ReadString('\n')
	if err != nil {
		o.logger().WithError(err).Warn("failed to read from input, continuing")
	}
}
