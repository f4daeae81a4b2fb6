// Package gateway composes the core into a running server.
//
// # Overview
//
// The Gateway owns every major component: the thread store, the runtime
// registry, the per-thread queue, the idempotency store, channel
// adapters, and the HTTP surface. An inbound message flows:
//
//	parse → idempotency gate → resolve thread id → per-thread queue →
//	session lifecycle → ensure runtime → run turn → upsert record → reply
//
// The idempotency gate runs before the thread id is resolved: resolution
// happens inside the gated task, so the gate never sees the thread id.
//
// Per-thread ordering is absolute: reset evaluation, runtime creation,
// turn execution, and the record upsert happen back to back inside the
// thread's queue slot, so concurrent callers never interleave on one
// thread.
//
// # Serving
//
// The HTTP surface is a chi router. It serves JSON by default and
// switches to SSE when the caller sends Accept: text/event-stream.
// With tailscale.enabled the listener moves onto a tsnet node.
package gateway
