package busx

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBasicPubSub(t *testing.T) {
	b := NewBus(4)
	conn := b.NewConnection("test")

	sub := conn.Subscribe(T("config", "geo"))
	conn.Publish(conn.NewMessage(T("config", "geo"), "hello", false))

	select {
	case got := <-sub.Channel():
		require.Equal(t, "hello", got.Payload)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for message")
	}
}

func TestRetainedMessage(t *testing.T) {
	b := NewBus(2)
	conn := b.NewConnection("test")

	conn.Publish(conn.NewMessage(T("config", "geo"), "persist", true))
	sub := conn.Subscribe(T("config", "geo"))

	select {
	case got := <-sub.Channel():
		require.Equal(t, "persist", got.Payload)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for retained message")
	}
}

func TestWildcard_SingleLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	s1 := c.Subscribe(T("a", "+", "c"))
	s2 := c.Subscribe(T("a", "+", "+"))
	s3 := c.Subscribe(T("a", "b", "+"))
	sNo := c.Subscribe(T("a", "+", "d"))

	c.Publish(b.NewMessage(T("a", "b", "c"), "m1", false))

	expectOneOf(t, s1, "m1")
	expectOneOf(t, s2, "m1")
	expectOneOf(t, s3, "m1")
	expectNoMessage(t, sNo)
}

func TestWildcard_MultiLevel(t *testing.T) {
	b := NewBus(16)
	c := b.NewConnection("test")

	sAHash := c.Subscribe(T("a", "#"))
	sABHash := c.Subscribe(T("a", "b", "#"))
	sAExact := c.Subscribe(T("a"))

	c.Publish(b.NewMessage(T("a"), "p1", false))
	expectOneOf(t, sAHash, "p1")
	expectOneOf(t, sAExact, "p1")
	expectNoMessage(t, sABHash)

	c.Publish(b.NewMessage(T("a", "b", "c"), "p2", false))
	expectOneOf(t, sAHash, "p2")
	expectOneOf(t, sABHash, "p2")
	expectNoMessage(t, sAExact)
}

func TestRequestReply_RequestWait(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")
	respConn := b.NewConnection("responder")

	reqTopic := T("power", "status", "get")
	respSub := respConn.Subscribe(reqTopic)
	defer respConn.Unsubscribe(respSub)

	go func() {
		if msg, ok := <-respSub.Channel(); ok {
			respConn.Reply(msg, "OK", false)
		}
	}()

	req := b.NewMessage(reqTopic, nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	reply, err := reqConn.RequestWait(ctx, req)
	require.NoError(t, err)
	require.Equal(t, "OK", reply.Payload)
	require.True(t, req.CanReply())
}

func TestRequestReply_Timeout(t *testing.T) {
	b := NewBus(8)
	reqConn := b.NewConnection("requester")

	req := b.NewMessage(T("service", "noop"), nil, false)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := reqConn.RequestWait(ctx, req)
	require.Error(t, err)
}

func TestDomainTopics_AreDistinct(t *testing.T) {
	topics := []Topic{Telemetry(), LogRecord(), Fault(), CertificateSignal()}
	seen := map[string]bool{}
	for _, tp := range topics {
		key := ""
		for _, tok := range tp {
			key += tok.(string) + "/"
		}
		require.False(t, seen[key], "duplicate topic %v", tp)
		seen[key] = true
	}
}

func expectOneOf(t *testing.T, sub *Subscription, want string) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		require.Equal(t, want, got.Payload)
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func expectNoMessage(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case got := <-sub.Channel():
		t.Fatalf("unexpected message: %#v", got)
	case <-time.After(60 * time.Millisecond):
	}
}

func drainPayloads(t *testing.T, sub *Subscription, n int) []string {
	t.Helper()
	var out []string
	deadline := time.Now().Add(300 * time.Millisecond)
	for len(out) < n && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			if s, ok := m.Payload.(string); ok {
				out = append(out, s)
			}
		case <-time.After(10 * time.Millisecond):
		}
	}
	sort.Strings(out)
	return out
}
