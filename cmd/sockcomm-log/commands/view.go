package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/sockcomm/sockcomm-go/pkg/log"
)

// eventLabel names the payload an event carries.
func eventLabel(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return "Message"
	case event.StateChange != nil:
		return "State"
	case event.Handshake != nil:
		return "Handshake"
	case event.Auth != nil:
		return "Auth"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	fmt.Fprintf(w, "%s [session:%s] %-3s %s %s\n",
		ts, shortID(event.SessionID), event.Direction.String(), event.Layer.String(), eventLabel(event))
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s (%s)\n", event.RemoteAddr, event.LocalRole.String())
	}

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Handshake != nil:
		formatHandshakeDetails(w, event.Handshake)
	case event.Auth != nil:
		verdict := "rejected"
		if event.Auth.Accepted {
			verdict = "accepted"
		}
		fmt.Fprintf(w, "  Method: %s, %s\n", event.Auth.Method, verdict)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}

	fmt.Fprintln(w)
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	mode := "chunked"
	if frame.Block {
		mode = "block"
	}
	fmt.Fprintf(w, "  Size: %d bytes (%s)\n", frame.Size, mode)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	cipher := msg.Cipher
	if cipher == "" {
		cipher = "plaintext"
	}
	fmt.Fprintf(w, "  Size: %d bytes, %s\n", msg.Size, cipher)
	if msg.DecryptFallback {
		fmt.Fprintln(w, "  Decrypt failed, raw bytes delivered")
	}
	if msg.EventsDispatched > 0 {
		fmt.Fprintf(w, "  Events dispatched: %d\n", msg.EventsDispatched)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatHandshakeDetails(w io.Writer, h *log.HandshakeEvent) {
	fmt.Fprintf(w, "  Step: %s\n", h.Step.String())
	if h.Size > 0 {
		fmt.Fprintf(w, "  Size: %d bytes\n", h.Size)
	}
	if h.Cipher != "" {
		fmt.Fprintf(w, "  Cipher: %s\n", h.Cipher)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Kind != "" {
		fmt.Fprintf(w, "  Kind: %s\n", err.Kind)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// RunView prints every event matching filter.
func RunView(path string, filter log.Filter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}
}
