package transport

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"pressurecal/errcode"
)

// fakeLink is an in-memory Link: writes are recorded, and ReadByte drains
// from a queued reply buffer so tests never touch real hardware.
type fakeLink struct {
	mu      sync.Mutex
	writes  []string
	reply   []byte
	noReply bool
}

func (f *fakeLink) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(p))
	return len(p), nil
}

func (f *fakeLink) ReadByte(timeout time.Duration) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noReply || len(f.reply) == 0 {
		return 0, errors.New("fakeLink: no data")
	}
	b := f.reply[0]
	f.reply = f.reply[1:]
	return b, nil
}

func (f *fakeLink) Close() error { return nil }

func TestPort_WriteAppendsCR(t *testing.T) {
	link := &fakeLink{}
	p := NewPort("inlet", link)
	require.NoError(t, p.Write("R"))
	require.Equal(t, []string{"R\r"}, link.writes)
}

func TestPort_Init_SendsCommandCode(t *testing.T) {
	link := &fakeLink{}
	p := NewPort("inlet", link)
	require.NoError(t, p.Init(10))
	require.Equal(t, []string{"E6\r"}, link.writes)
}

func TestPort_Init_RejectsUnknownFS(t *testing.T) {
	link := &fakeLink{}
	p := NewPort("inlet", link)
	err := p.Init(7)
	require.Error(t, err)
	require.Equal(t, errcode.OutOfRangeInput, errcode.Of(err))
}

func TestPort_Query_ParsesReply(t *testing.T) {
	link := &fakeLink{reply: []byte("P=12.340\r")}
	p := NewPort("inlet", link)
	reply, err := p.Query("R")
	require.NoError(t, err)
	v, ok := reply.Get()
	require.True(t, ok)
	require.Equal(t, "P=12.340", v)
}

func TestPort_QueryFloat_ExtractsNumber(t *testing.T) {
	link := &fakeLink{reply: []byte("P=-3.5 PSI\r")}
	p := NewPort("inlet", link)
	v, err := p.QueryFloat("R")
	require.NoError(t, err)
	val, ok := v.Get()
	require.True(t, ok)
	require.InDelta(t, -3.5, val, 1e-9)
}

func TestPort_Query_TimesOutWithoutTerminator(t *testing.T) {
	link := &fakeLink{noReply: true}
	p := NewPort("inlet", link)
	_, err := p.Query("R")
	require.Error(t, err)
	require.Equal(t, errcode.TransportTimeout, errcode.Of(err))
}

func TestParseFirstFloat(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"P=12.340 PSI", 12.340, true},
		{"-3.5", -3.5, true},
		{"+0.002", 0.002, true},
		{"no numbers here", 0, false},
		{"READY", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseFirstFloat(c.in)
		require.Equal(t, c.ok, ok, c.in)
		if ok {
			require.InDelta(t, c.want, got, 1e-9, c.in)
		}
	}
}
