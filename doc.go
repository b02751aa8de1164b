/*
Package shmx implements a single-producer/many-reader shared-memory
transport for publishing fixed-schema frames at high rates between
co-located processes.

A Server creates and owns a named shared region and publishes frames of
named typed streams onto a slotted ring. Any number of Clients attach
read-only, observe the latest published frame with bounded staleness, and
send small control messages back to the server over per-reader SPSC
rings. An Inspector attaches read-only for diagnostics without claiming a
reader slot.

The wire layout, the atomic publish/observe protocol and the CRC32C frame
validation are bit-exact and documented in the internal/wire,
internal/layout and internal/ring packages; this package is the facade that wires them
together into the three roles.
*/
package shmx
