// Package protocol implements the line-delimited JSON-RPC dialect spoken
// with agent child processes over stdio.
//
// # Overview
//
// Each agent runs as a child process with piped stdin/stdout/stderr. The
// gateway writes one JSON value per line to stdin and reads one JSON value
// per line from stdout. Three message shapes travel on the wire:
//
//   - requests:      {id, method, params?}
//   - responses:     {id, result} or {id, error}
//   - notifications: {method, params?} (no id)
//
// A message carrying both an id and a method is a reverse request from the
// agent to the gateway (approval prompts); the Peer always answers these.
//
// # Peer
//
// Peer owns the child's pipes and correlates requests with responses:
//
//	peer, err := protocol.Spawn(ctx, protocol.SpawnConfig{PeerConfig: protocol.PeerConfig{Logger: logger}, Command: cmd})
//	err = peer.Handshake(ctx)
//	var res protocol.ThreadResult
//	err = peer.Call(ctx, protocol.MethodThreadStart, params, &res)
//
// Notifications fan out synchronously, in arrival order, to every listener
// registered with Subscribe. Close ends stdin, kills the child, and rejects
// all pending calls; it is safe to call more than once.
//
// Stderr is consumed into a bounded ring buffer and attached to the error
// surfaced when the child exits with calls still in flight.
package protocol
