// ABOUTME: Unit tests for the network sender
// ABOUTME: Tests queue drain, wire output and receive timeouts over loopback
package transport

import (
	"net"
	"testing"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
)

// loopbackPair builds a unicast sender->receiver pair so tests do not depend
// on multicast routing in the test environment.
func loopbackPair(t *testing.T) (*Sender, *Conn) {
	t.Helper()

	rxSock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to bind receiver: %v", err)
	}
	txSock, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("failed to bind sender: %v", err)
	}

	rx := &Conn{udp: rxSock}
	tx := &Conn{udp: txSock, group: rxSock.LocalAddr().(*net.UDPAddr)}

	sender := NewSender(tx)
	t.Cleanup(func() {
		sender.Close()
		txSock.Close()
		rxSock.Close()
	})
	return sender, rx
}

func TestSenderDeliversPackets(t *testing.T) {
	sender, rx := loopbackPair(t)

	want := protocol.Ntp{Phase: protocol.PhaseRequest, OriginTs: 12345}
	if err := sender.Send(want); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	buf := make([]byte, protocol.MaxPacketSize)
	n, _, ok, err := rx.ReadFrom(buf, time.Second)
	if err != nil {
		t.Fatalf("ReadFrom() failed: %v", err)
	}
	if !ok {
		t.Fatal("ReadFrom() timed out waiting for packet")
	}

	decoded, err := protocol.Decode(buf[:n])
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	got, isNtp := decoded.(protocol.Ntp)
	if !isNtp || got.OriginTs != want.OriginTs {
		t.Errorf("received %#v, want %#v", decoded, want)
	}
}

func TestReadFromTimeoutIsNotError(t *testing.T) {
	_, rx := loopbackPair(t)

	buf := make([]byte, 64)
	_, _, ok, err := rx.ReadFrom(buf, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadFrom() timeout returned error: %v", err)
	}
	if ok {
		t.Error("ReadFrom() reported a packet on an idle socket")
	}
}

func TestSendRejectsOversizePacket(t *testing.T) {
	sender, _ := loopbackPair(t)

	p := protocol.Realtime{
		Host:    protocol.HostIDFromIP(net.IPv4(127, 0, 0, 1)),
		Payload: make([]byte, protocol.MaxPacketSize),
	}
	if err := sender.Send(p); err == nil {
		t.Error("Send(oversize) expected serialization error, got nil")
	}
}
