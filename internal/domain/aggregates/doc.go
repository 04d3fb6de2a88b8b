// Package aggregates defines domain-facing aggregate contracts.
//
// Contracts describe semantic write boundaries (admission, dispatch claim,
// settlement, cancellation) whose invariants must hold atomically. They carry
// no persistence or transport details.
package aggregates
