package transport

import (
	"errors"
	"strings"
	"sync"
	"time"

	"pressurecal/errcode"
	"pressurecal/model"
)

var errShortRead = errors.New("transport: short read")

// queryTimeout bounds how long Query waits for a terminated reply before
// surfacing errcode.TransportTimeout. The controllers in the rig reply
// within a few hundred milliseconds at 9600 baud; anything slower means
// the link or the instrument has wedged.
const queryTimeout = 750 * time.Millisecond

// fsCommandCode maps the standard's full-scale range to the command the
// inlet/outlet controller firmware expects at startup, per spec.md §4.1.
var fsCommandCode = map[float64]string{
	0.1:  "E0",
	1.0:  "E3",
	10:   "E6",
	100:  "E9",
	1000: "E12",
}

// Port is a single ASCII line-oriented instrument endpoint: an inlet
// valve controller, an outlet valve controller, or the turbo controller.
// Every method serializes on one mutex so concurrent control-loop and
// manual-console writers never interleave bytes on the wire.
type Port struct {
	name string
	link Link
	mu   sync.Mutex
}

// NewPort wraps link under name (used only for logging/error context).
func NewPort(name string, link Link) *Port {
	return &Port{name: name, link: link}
}

// Init sends the command code matching fs to the controller, establishing
// its full-scale range. Called once at startup for the inlet and outlet
// controllers.
func (p *Port) Init(fs float64) error {
	code, ok := fsCommandCode[fs]
	if !ok {
		return errcode.Wrap("transport.Init", errcode.OutOfRangeInput, nil)
	}
	return p.Write(code)
}

// Write sends cmd terminated with a carriage return.
func (p *Port) Write(cmd string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, err := p.link.Write([]byte(cmd + "\r"))
	if err != nil {
		return errcode.Wrap("transport.Write["+p.name+"]", errcode.LostLink, err)
	}
	return nil
}

// Query writes cmd and reads back a carriage-return-terminated reply. A
// missing or malformed reply within queryTimeout yields errcode.TransportTimeout
// and an invalid Option, never a panic or a zero-value pressure reading.
func (p *Port) Query(cmd string) (model.Option[string], error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.link.Write([]byte(cmd + "\r")); err != nil {
		return model.None[string](), errcode.Wrap("transport.Query["+p.name+"]", errcode.LostLink, err)
	}

	deadline := time.Now().Add(queryTimeout)
	var sb strings.Builder
	for time.Now().Before(deadline) {
		remaining := time.Until(deadline)
		b, err := p.link.ReadByte(remaining)
		if err != nil {
			return model.None[string](), errcode.Wrap("transport.Query["+p.name+"]", errcode.TransportTimeout, err)
		}
		if b == '\r' || b == '\n' {
			if sb.Len() == 0 {
				continue
			}
			return model.Some(sb.String()), nil
		}
		sb.WriteByte(b)
	}
	return model.None[string](), errcode.Wrap("transport.Query["+p.name+"]", errcode.TransportTimeout, nil)
}

// QueryFloat queries cmd and extracts the first signed decimal number
// present in the reply, per spec.md §4.1's numeric-scan contract: replies
// may carry a units suffix or leading echo text, only the first number
// matters.
func (p *Port) QueryFloat(cmd string) (model.Option[float64], error) {
	reply, err := p.Query(cmd)
	if err != nil {
		return model.None[float64](), err
	}
	v, ok := ParseFirstFloat(reply.Value)
	if !ok {
		return model.None[float64](), errcode.Wrap("transport.QueryFloat["+p.name+"]", errcode.Unparseable, nil)
	}
	return model.Some(v), nil
}

// Close releases the underlying link.
func (p *Port) Close() error {
	return p.link.Close()
}
