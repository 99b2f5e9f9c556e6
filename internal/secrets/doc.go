// Package secrets detects and redacts credentials in free text.
//
// Ticket comments are copied verbatim into goal status updates, which are
// often readable by a wider audience than the tracker. Every comment body
// passes through a Scrubber first. Findings record rule IDs and positions,
// never the matched value.
package secrets
