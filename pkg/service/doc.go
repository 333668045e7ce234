// Package service provides the Server and Client orchestrators.
//
// A Server runs the accept loop, drives every accepted connection through
// the session handshake and auth exchange, registers the sessions that
// become Ready and serves their messages. A Client connects one session to
// a server and exposes send and receive on it.
//
// Both run under a concurrency.Strategy: connection handlers, event
// handlers and scheduled tasks are started with its Go, and cipher work is
// offloaded through it.
//
// # Server lifecycle
//
//	srv, err := service.NewServer(service.ServerConfig{
//	    Endpoint:  transport.Endpoint{Host: "0.0.0.0", Port: 8080},
//	    Session:   session.Config{Cipher: "fernet"},
//	    OnMessage: func(ctx context.Context, s *session.Session, msg []byte) { ... },
//	})
//	if err := srv.Start(ctx); err != nil { ... }
//	defer srv.Stop()
//
// Sessions whose handshake or authentication fails are closed and never
// registered; the accept loop keeps serving other peers.
package service
