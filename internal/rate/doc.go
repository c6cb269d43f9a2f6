// Package rate provides Redis-backed fixed-window counters that throttle
// credential guessing on the login surface and runaway refresh loops.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - al:  login per-email
//   - ali: login per-IP
//   - ar:  refresh per-session
//
// # What this package must NOT do
//
//   - Implement mail-code attempt accounting (that state machine lives in otp).
//   - Be imported outside the authcore module.
package rate
