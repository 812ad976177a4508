// Package ably implements the client core of a realtime pub/sub SDK: channel
// attach and detach, publishing with acknowledgements, presence with member
// sync, and a REST client that retries across fallback hosts.
//
// The primary lifecycle is:
//   - construct a Realtime client with NewRealtime
//   - get a Channel from Channels and Attach, Subscribe or Publish on it
//   - enter presence through Channel.Presence
//   - Close when finished
//
// Operations that complete later return a *Result, which resolves exactly
// once. Listeners registered with On, Subscribe and Presence.Subscribe run
// outside the client's locks and may call back into the client.
//
// A Rest client alone covers request/response use: Time, History, Publish
// and PresenceGet all go through the RequestExecutor, which authenticates
// each attempt and fails over to fallback hosts on retryable errors.
//
// Errors are *Error values carrying an ErrorKind and a numeric code; use
// IsKind or errors.As to inspect them.
package ably
