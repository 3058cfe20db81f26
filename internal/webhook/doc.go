// Package webhook ingests vendor callbacks.
//
// Every delivery is authenticated with an HMAC-SHA256 signature over the raw
// body (fail-closed when no secret is configured), normalized from the
// vendor's envelope, and deduplicated through the job index before reaching
// the engine. Deliveries that cannot be processed land in the dead-letter
// log.
package webhook
