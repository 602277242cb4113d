// Package ledger implements the request acknowledgement ledger of the server.
//
// Clients that support acknowledgement may resend a request after a broken
// connection. Before resending they ask the server about the request
// (InquiryRequest), the ledger answers with the request state and, for an
// executed request, the response packets it produced. This keeps non
// idempotent commands (Add, Remove, ...) from running twice.
//
// Every request carries the id of the last response its client received.
// Records up to that id are released on Register, the rest expire after the
// ledger ttl (backed by ttlcache).
package ledger
