// Package middleware exposes net/http adapters over the engine's guards.
//
// # Guards
//
//   - [RequireAccess]: bearer token, session liveness, device fingerprint.
//   - [RequireRefresh]: refresh cookie, session liveness, stored fingerprint.
//   - [RequireRole]: role gate on an already-guarded route, decode only.
//
// Each guard calls the matching Engine validation and injects the result
// into the request context. Rejections are a bare 401/403 with no cause.
//
// # Architecture boundaries
//
// This package translates HTTP semantics (headers, cookies, status codes)
// into Engine calls. It does NOT implement authentication logic itself; all
// decisions are delegated to the Engine.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Leak which check rejected a request.
package middleware
