package transport

import (
	"time"

	serial "github.com/daedaluz/goserial"
)

// SerialLink adapts a github.com/daedaluz/goserial port to Link.
type SerialLink struct {
	port *serial.Port
}

// OpenSerial opens name (e.g. "/dev/ttyUSB0") at 9600 baud 8N1 raw mode,
// the framing every controller in the calibration rig speaks.
func OpenSerial(name string) (*SerialLink, error) {
	port, err := serial.Open(name, serial.NewOptions().SetReadTimeout(500*time.Millisecond))
	if err != nil {
		return nil, err
	}
	attrs, err := port.GetAttr()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.MakeRaw()
	attrs.SetSpeed(serial.B9600)
	if err := port.SetAttr(serial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}
	return &SerialLink{port: port}, nil
}

func (l *SerialLink) Write(p []byte) (int, error) {
	return l.port.Write(p)
}

func (l *SerialLink) ReadByte(timeout time.Duration) (byte, error) {
	buf := make([]byte, 1)
	n, err := l.port.ReadTimeout(buf, timeout)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, errShortRead
	}
	return buf[0], nil
}

func (l *SerialLink) Close() error {
	return l.port.Close()
}
