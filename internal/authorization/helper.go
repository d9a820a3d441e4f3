package authorization

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"
)

// helperSender invokes an external command to deliver a message over
// some out-of-band side channel: argv[1] is the destination address,
// stdin is the message body, the exit code reports success (spec.md
// §6: "COMMAND (path to helper program that receives the user's
// address on argv and the message body on stdin)"). Used by the sms,
// email and post plugins, which differ only in how they render the
// message body and what "address" means.
type helperSender struct {
	command string
	timeout time.Duration
	logger  *log.Logger
}

func newHelperSender(command string, timeout time.Duration, logger *log.Logger) *helperSender {
	return &helperSender{command: command, timeout: timeout, logger: logger}
}

// send runs the configured helper and returns its failure, if any. It
// is safe to call from a plugin's Start (synchronous side-channel
// dispatch happens before Process ever returns).
func (h *helperSender) send(ctx context.Context, address string, body []byte) error {
	cmdCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, h.command, address)
	cmd.Stdin = bytes.NewReader(body)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			h.logger.Printf("helper %s exited %d: %s", h.command, exitErr.ExitCode(), stderr.String())
			return fmt.Errorf("authorization: helper %s: %s", h.command, stderr.String())
		}
		return fmt.Errorf("authorization: helper %s: %w", h.command, err)
	}
	return nil
}

// helperState is the shared State implementation for the sms/email/post
// plugins: the helper command is invoked synchronously inside Process,
// so Ready is closed immediately at Start and Cleanup has nothing to
// cancel beyond an already-exited child process.
type helperState struct {
	*baseState
	address string
	code    uint64
}

func newHelperState(address string, code uint64) *helperState {
	s := &helperState{baseState: newBaseState(), address: address, code: code}
	s.wake()
	return s
}
