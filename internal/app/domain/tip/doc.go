// Package tip defines the tip settlement record and its lifecycle state machine:
// PENDING moves to SUCCEEDED, FAILED or DISPUTED; DISPUTED closes to SUCCEEDED
// or REFUNDED; SUCCEEDED may later be REFUNDED.
package tip
