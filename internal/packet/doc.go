// Package packet defines the binary records exchanged over the garden radio
// network.
//
// Two records exist:
//
//   - Telemetry: 13 bytes, packed little-endian, sent node → gateway every
//     sampling interval.
//   - Command: at most 8 bytes of NUL-terminated text, sent gateway → node.
//
// Both layouts are positional. There are no length prefixes, field tags or
// checksums beyond what the radio link layer provides.
package packet
