// Package radio drives the gateway's nRF24L01 transceiver.
//
// The chip is half-duplex: it either listens on its reading pipes or
// transmits on its writing pipe, never both. Transport hides the mode
// switching behind two calls:
//
//   - Send stops listening, points the writing pipe at a node, performs one
//     blocking write with hardware auto-ack and always resumes listening.
//   - PollReceive checks the receive FIFO without blocking and returns at
//     most one payload.
//
// Hardware access goes through the Driver interface. SerialDriver talks to a
// USB radio modem over a framed serial protocol; package radiotest provides an
// in-memory medium for tests and simulation.
package radio
