// Package spi provides the byte and bulk transports the flash drivers frame
// their commands on.
package spi

import "periph.io/x/conn/v3/physic"

// Filler is clocked out while a bulk receive is in progress.
const Filler = 0xFF

// Bus is a full-duplex SPI link to a single chip with a software-controlled
// chip select.
//
// Exchange is used for command, address, dummy and single status bytes. Send
// and Receive move bulk payloads, in hardware where the backend can, and
// return only after the transfer has completed.
type Bus interface {
	Configure(freq physic.Frequency) error
	Release() error

	Select() error
	Deselect() error

	// Exchange writes b and returns the byte received at the same time.
	Exchange(b byte) (byte, error)
	// Send transmits buf and discards inbound bytes.
	Send(buf []byte) error
	// Receive fills buf while transmitting Filler.
	Receive(buf []byte) error
}
