package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/sockcomm/sockcomm-go/pkg/log"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Sessions          map[string]*SessionStats
	Errors            int
	DecryptFallbacks  int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// SessionStats holds statistics for a single session.
type SessionStats struct {
	FirstSeen    time.Time
	LastSeen     time.Time
	Events       int
	RemoteAddr   string
	Role         log.Role
	Crypto       string
	AuthMethod   string
	AuthAccepted *bool
	MessagesIn   int
	MessagesOut  int
	BytesIn      int
	BytesOut     int
	LastState    string
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Sessions:          make(map[string]*SessionStats),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		stats.add(event)
	}

	printStats(w, stats)
	return nil
}

func (s *Stats) add(event log.Event) {
	s.TotalEvents++
	s.EventsByLayer[event.Layer]++
	s.EventsByCategory[event.Category]++
	s.EventsByDirection[event.Direction]++

	if s.TimeRange.Start.IsZero() || event.Timestamp.Before(s.TimeRange.Start) {
		s.TimeRange.Start = event.Timestamp
	}
	if event.Timestamp.After(s.TimeRange.End) {
		s.TimeRange.End = event.Timestamp
	}
	if event.Error != nil {
		s.Errors++
	}

	if event.SessionID == "" {
		return
	}
	sess, ok := s.Sessions[event.SessionID]
	if !ok {
		sess = &SessionStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Role:      event.LocalRole,
		}
		s.Sessions[event.SessionID] = sess
	}
	sess.Events++
	if event.Timestamp.After(sess.LastSeen) {
		sess.LastSeen = event.Timestamp
	}
	if event.RemoteAddr != "" && sess.RemoteAddr == "" {
		sess.RemoteAddr = event.RemoteAddr
	}

	switch {
	case event.Message != nil:
		if event.Direction == log.DirectionIn {
			sess.MessagesIn++
			sess.BytesIn += event.Message.Size
		} else {
			sess.MessagesOut++
			sess.BytesOut += event.Message.Size
		}
		if event.Message.DecryptFallback {
			s.DecryptFallbacks++
		}
	case event.Handshake != nil:
		switch event.Handshake.Step {
		case log.HandshakeEstablished, log.HandshakePreShared:
			sess.Crypto = event.Handshake.Cipher
			if event.Handshake.Step == log.HandshakePreShared {
				sess.Crypto += " (pre-shared)"
			}
		case log.HandshakeFallback:
			sess.Crypto = "plaintext"
		}
	case event.Auth != nil:
		accepted := event.Auth.Accepted
		sess.AuthMethod = event.Auth.Method
		sess.AuthAccepted = &accepted
	case event.StateChange != nil:
		if event.StateChange.Entity == log.StateEntitySession {
			sess.LastState = event.StateChange.NewState
		}
	}
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== sockcomm Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerSession, log.LayerService} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryHandshake, log.CategoryState, log.CategoryAuth, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Sessions: %d\n", len(stats.Sessions))
	if len(stats.Sessions) > 0 {
		type sessionInfo struct {
			id    string
			stats *SessionStats
		}
		sessions := make([]sessionInfo, 0, len(stats.Sessions))
		for id, ss := range stats.Sessions {
			sessions = append(sessions, sessionInfo{id, ss})
		}
		sort.Slice(sessions, func(i, j int) bool {
			return sessions[i].stats.FirstSeen.Before(sessions[j].stats.FirstSeen)
		})

		fmt.Fprintln(w)
		for _, s := range sessions {
			ss := s.stats
			duration := ss.LastSeen.Sub(ss.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [%s] %s %d events, duration %s\n", shortID(s.id), ss.Role.String(), ss.Events, duration)
			if ss.RemoteAddr != "" {
				fmt.Fprintf(w, "           Peer: %s\n", ss.RemoteAddr)
			}
			if ss.Crypto != "" {
				fmt.Fprintf(w, "           Crypto: %s\n", ss.Crypto)
			}
			if ss.AuthAccepted != nil {
				verdict := "rejected"
				if *ss.AuthAccepted {
					verdict = "accepted"
				}
				fmt.Fprintf(w, "           Auth: %s %s\n", ss.AuthMethod, verdict)
			}
			if ss.MessagesIn+ss.MessagesOut > 0 {
				fmt.Fprintf(w, "           Messages: %d in (%d bytes), %d out (%d bytes)\n",
					ss.MessagesIn, ss.BytesIn, ss.MessagesOut, ss.BytesOut)
			}
			if ss.LastState != "" {
				fmt.Fprintf(w, "           State: %s\n", ss.LastState)
			}
		}
	}

	if stats.DecryptFallbacks > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Decrypt Fallbacks: %d\n", stats.DecryptFallbacks)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
