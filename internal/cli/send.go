// File: internal/cli/send.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package cli

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/momentics/wsreactor/client"
	"github.com/momentics/wsreactor/protocol"
)

type sendOptions struct {
	url      string
	message  string
	origin   string
	protocol string
	replies  int
	timeout  time.Duration
}

// newSendCmd builds a probe that connects to a running server, sends one text
// message and prints the messages it gets back.
func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message to a WebSocket server and print the replies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "ws://127.0.0.1:6001/", "server URL")
	f.StringVarP(&opts.message, "message", "m", "ping", "text to send")
	f.StringVar(&opts.origin, "origin", "", "Origin header")
	f.StringVar(&opts.protocol, "subprotocol", "", "Sec-WebSocket-Protocol header")
	f.IntVarP(&opts.replies, "replies", "n", 1, "messages to wait for before closing")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "dial and read timeout")
	return cmd
}

func runSend(cmd *cobra.Command, opts *sendOptions) error {
	cfg := client.DefaultConfig()
	cfg.DialTimeout = opts.timeout
	cfg.ReadTimeout = opts.timeout
	cfg.Header = http.Header{}
	if opts.origin != "" {
		cfg.Header.Set(protocol.HeaderOrigin, opts.origin)
	}
	if opts.protocol != "" {
		cfg.Header.Set(protocol.HeaderSecWebSocketProto, opts.protocol)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()
	conn, err := client.Dial(ctx, opts.url, cfg)
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.url, err)
	}
	defer conn.Close(protocol.CloseNormalClosure, "")

	if err := conn.SendText(opts.message); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for i := 0; i < opts.replies; i++ {
		msg, err := conn.Recv()
		if err != nil {
			return err
		}
		if msg.Opcode == protocol.OpcodeText {
			fmt.Fprintln(out, string(msg.Payload))
		} else {
			fmt.Fprintf(out, "<%d bytes binary>\n", len(msg.Payload))
		}
	}
	return nil
}
