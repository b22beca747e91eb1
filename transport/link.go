// Package transport implements the line-oriented ASCII instrument
// protocol used to talk to the inlet and outlet valve controllers and the
// turbo pump controller over 9600-baud serial links, per spec.md §4.1/§6.
// The wire transport itself is backed by github.com/daedaluz/goserial
// (Linux termios), but all protocol logic operates against the small Link
// interface below so tests can substitute an in-memory fake.
package transport

import "time"

// Link is the minimal byte-oriented transport a Port needs: write bytes,
// and read bytes with a deadline. Satisfied by *SerialLink (real hardware)
// and by fakes in tests.
type Link interface {
	Write(p []byte) (int, error)
	ReadByte(timeout time.Duration) (byte, error)
	Close() error
}
