// Package authcore provides a session and token lifecycle engine with
// device-fingerprint binding, a fixed-size FIFO session quota per user, JWT
// access/refresh pairs, OAuth profile logins, and an abuse-resistant
// email one-time-code flow with cross-device correlation blocking.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (AuthResult, MetricsSnapshot, AuditEvent, etc.). Flow
// orchestration, rate limiting, and audit dispatch live under internal/;
// the session, otp, jwt, fingerprint, and password packages are importable
// building blocks but are fully wired by the engine.
//
// # What this package must NOT do
//
//   - Expose Redis clients or storage encodings in its public API.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//   - Distinguish token failure causes to callers; guards answer with a
//     single unauthorized error.
package authcore
