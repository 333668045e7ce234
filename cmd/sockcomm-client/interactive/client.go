// Package interactive provides the interactive command-line interface
// for sockcomm-client.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/sockcomm/sockcomm-go/pkg/auth"
	"github.com/sockcomm/sockcomm-go/pkg/event"
	"github.com/sockcomm/sockcomm-go/pkg/service"
)

// DefaultReceiveTimeout bounds recv when no timeout argument is given.
const DefaultReceiveTimeout = 5 * time.Second

// Shell handles interactive mode for sockcomm-client.
type Shell struct {
	client *service.Client
	rl     *readline.Instance
}

// New creates a shell. SetClient must be called before Run.
func New() (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "sockcomm> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Shell{rl: rl}, nil
}

// SetClient sets the client the commands drive.
func (s *Shell) SetClient(client *service.Client) {
	s.client = client
}

// Stdout returns a writer that coordinates with the readline prompt. Use it
// for log output.
func (s *Shell) Stdout() io.Writer {
	return s.rl.Stdout()
}

// Run starts the command loop. It returns when the user quits or ctx is
// done.
func (s *Shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(input, " ")
		rest = strings.TrimSpace(rest)

		switch strings.ToLower(cmd) {
		case "help", "?":
			s.printHelp()
		case "send", "s":
			s.cmdSend(ctx, rest, false)
		case "block", "b":
			s.cmdSend(ctx, rest, true)
		case "recv", "r":
			s.cmdRecv(ctx, rest, false)
		case "recvblock", "rb":
			s.cmdRecv(ctx, rest, true)
		case "on":
			s.cmdOn(rest)
		case "connect", "c":
			s.cmdConnect(ctx)
		case "disconnect", "d":
			s.cmdDisconnect()
		case "status", "st":
			s.cmdStatus()
		case "token":
			s.cmdToken()
		case "quit", "exit", "q":
			fmt.Fprintln(s.rl.Stdout(), "Exiting...")
			cancel()
			return
		default:
			fmt.Fprintf(s.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `
Commands:
  send <text>        Send a chunked message (alias: s)
  block <text>       Send a message as one block (alias: b)
  recv [timeout]     Receive a chunked message (alias: r)
  recvblock [timeout]
                     Receive a block message (alias: rb)
  on <flag>          Print events !{flag}:{args}! found in received messages
  connect            Connect with retry (alias: c)
  disconnect         Close the session (alias: d)
  status             Show session state (alias: st)
  token              Generate a random shared token
  help               Show this help (alias: ?)
  quit               Exit (alias: q)

`)
}

func (s *Shell) cmdSend(ctx context.Context, text string, block bool) {
	if text == "" {
		fmt.Fprintln(s.rl.Stdout(), "Usage: send <text>")
		return
	}
	var err error
	if block {
		err = s.client.SendBlock(ctx, []byte(text))
	} else {
		err = s.client.Send(ctx, []byte(text))
	}
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Sent %d bytes\n", len(text))
}

func (s *Shell) cmdRecv(ctx context.Context, arg string, block bool) {
	timeout := DefaultReceiveTimeout
	if arg != "" {
		d, err := parseTimeout(arg)
		if err != nil {
			fmt.Fprintf(s.rl.Stdout(), "Invalid timeout: %v\n", err)
			return
		}
		timeout = d
	}

	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		msg []byte
		err error
	)
	if block {
		msg, err = s.client.ReceiveBlock(rctx)
	} else {
		msg, err = s.client.Receive(rctx)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Fprintf(s.rl.Stdout(), "Nothing received within %s\n", timeout)
	case err != nil:
		fmt.Fprintf(s.rl.Stdout(), "Receive failed: %v\n", err)
	default:
		fmt.Fprintf(s.rl.Stdout(), "< %s\n", msg)
	}
}

func (s *Shell) cmdOn(flag string) {
	if flag == "" {
		fmt.Fprintln(s.rl.Stdout(), "Usage: on <flag>")
		return
	}
	out := s.rl.Stdout()
	s.client.Router().On(flag, func(args []string) error {
		fmt.Fprintf(out, "[event] %s %v\n", flag, args)
		return nil
	})
	fmt.Fprintf(out, "Listening for %s\n", event.Format(flag, "..."))
}

func (s *Shell) cmdConnect(ctx context.Context) {
	if s.client.Running() {
		fmt.Fprintln(s.rl.Stdout(), "Already connected")
		return
	}
	if err := s.client.ConnectWithRetry(ctx); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Connect failed: %v\n", err)
		return
	}
	s.cmdStatus()
}

func (s *Shell) cmdDisconnect() {
	if err := s.client.Disconnect(); err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Disconnect failed: %v\n", err)
		return
	}
	fmt.Fprintln(s.rl.Stdout(), "Disconnected")
}

func (s *Shell) cmdStatus() {
	out := s.rl.Stdout()
	sess := s.client.Session()
	if sess == nil {
		fmt.Fprintln(out, "Not connected")
		return
	}

	cipher := sess.CipherName()
	if cipher == "" {
		cipher = "none"
	}
	stats := sess.Stats()
	fmt.Fprintf(out, "Session:  %s\n", sess.ID())
	fmt.Fprintf(out, "Peer:     %v\n", sess.RemoteAddr())
	fmt.Fprintf(out, "State:    %s\n", sess.State())
	fmt.Fprintf(out, "Crypto:   %s (%s)\n", sess.CryptoState(), cipher)
	fmt.Fprintf(out, "Messages: %d sent, %d received\n", stats.MessagesSent, stats.MessagesReceived)
	if stats.DecryptFailures > 0 {
		fmt.Fprintf(out, "Decrypt failures: %d\n", stats.DecryptFailures)
	}
	if stats.EventsDispatched > 0 {
		fmt.Fprintf(out, "Events dispatched: %d\n", stats.EventsDispatched)
	}
	fmt.Fprintf(out, "Idle:     %s\n", time.Since(sess.LastActivity()).Round(time.Second))
}

func (s *Shell) cmdToken() {
	token, err := auth.RandomToken(auth.DefaultTokenLength)
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "Token generation failed: %v\n", err)
		return
	}
	fmt.Fprintf(s.rl.Stdout(), "Token: %s\n", token)
}

// parseTimeout accepts a duration ("500ms") or plain seconds ("3").
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}
