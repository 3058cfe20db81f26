// Package vendorhttp adapts a vendor's JSON job API to the stage.Client
// contract.
//
// Jobs are submitted with POST {base}{start_path} carrying an Idempotency-Key
// header, polled with GET {base}{status_path} and optionally cancelled with
// POST {base}{cancel_path}. Path templates substitute {job_id}. Responses are
// classified so callers can tell a vendor outage (transient) from a rejected
// request (permanent).
package vendorhttp
