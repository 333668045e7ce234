// Package event dispatches command tokens embedded in message text.
//
// A token has the form !{flag}:{arg,arg,...}!. Every token found in a
// scanned payload invokes the handler bound to its flag with the
// comma-separated arguments. Handlers run independently of the caller and
// of each other; their results and failures never reach the sender.
package event

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// tokenPattern matches !{flag}:{args}!.
var tokenPattern = regexp.MustCompile(`!\{([^}]*)\}:\{([^}]*)\}!`)

// Handler handles one token. A returned error is logged.
type Handler func(args []string) error

// Token is a parsed command token.
type Token struct {
	Flag string
	Args []string
}

// Router maps flags to handlers.
type Router struct {
	spawn  func(func())
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter creates a router that runs handlers through spawn (typically a
// concurrency strategy's Go). A nil spawn uses goroutines.
func NewRouter(spawn func(func()), logger *slog.Logger) *Router {
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}
	return &Router{
		spawn:    spawn,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// On binds handler to flag, replacing any previous binding.
func (r *Router) On(flag string, handler Handler) {
	r.mu.Lock()
	r.handlers[flag] = handler
	r.mu.Unlock()
}

// Off removes the binding for flag.
func (r *Router) Off(flag string) {
	r.mu.Lock()
	delete(r.handlers, flag)
	r.mu.Unlock()
}

// Len returns the number of bindings.
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Scan dispatches every token in text and returns how many handlers were
// started. With no bindings the text is not scanned.
func (r *Router) Scan(text []byte) int {
	if r.Len() == 0 {
		return 0
	}

	dispatched := 0
	for _, tok := range Parse(text) {
		r.mu.RLock()
		h, ok := r.handlers[tok.Flag]
		r.mu.RUnlock()
		if !ok {
			r.debugLog("no handler for event", "flag", tok.Flag)
			continue
		}

		tok := tok
		r.spawn(func() { r.run(tok, h) })
		dispatched++
	}
	return dispatched
}

// run calls h, logging a returned error or a panic.
func (r *Router) run(tok Token, h Handler) {
	defer func() {
		if p := recover(); p != nil {
			r.warnLog("event handler panicked", "flag", tok.Flag, "panic", fmt.Sprint(p))
		}
	}()
	if err := h(tok.Args); err != nil {
		r.warnLog("event handler failed", "flag", tok.Flag, "error", err)
	}
}

// Parse returns every token in text, in order.
func Parse(text []byte) []Token {
	matches := tokenPattern.FindAllSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, Token{
			Flag: string(m[1]),
			Args: strings.Split(string(m[2]), ","),
		})
	}
	return tokens
}

// Format renders a token, for senders embedding one in a message.
func Format(flag string, args ...string) string {
	return "!{" + flag + "}:{" + strings.Join(args, ",") + "}!"
}

func (r *Router) debugLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}

func (r *Router) warnLog(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Warn(msg, args...)
	}
}
