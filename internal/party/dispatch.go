// ABOUTME: Packet dispatcher
// ABOUTME: Demultiplexes the multicast socket into typed subsystems
package party

import (
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/clock"
	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
	"github.com/SuperKenVery/wifi-party-go/internal/transport"
)

// recvTimeout bounds the blocking read so the shutdown flag is observed at
// the loop head.
const recvTimeout = 100 * time.Millisecond

// Dispatcher runs the dedicated receive thread: recv, validate tag, route.
// It never blocks on a subsystem; realtime and synced handlers update
// lock-free structures and return. Malformed packets are counted and
// discarded.
type Dispatcher struct {
	conn      *transport.Conn
	st        *state.AppState
	realtime  *RealtimeManager
	synced    *SyncedManager
	clk       *clock.Service
	onRequest func(protocol.RequestFrames)
	shutdown  *atomic.Bool
}

// NewDispatcher wires the receive loop to its subsystems.
func NewDispatcher(conn *transport.Conn, st *state.AppState, rt *RealtimeManager,
	sm *SyncedManager, clk *clock.Service, onRequest func(protocol.RequestFrames),
	shutdown *atomic.Bool) *Dispatcher {
	return &Dispatcher{
		conn:      conn,
		st:        st,
		realtime:  rt,
		synced:    sm,
		clk:       clk,
		onRequest: onRequest,
		shutdown:  shutdown,
	}
}

// Run loops until the shutdown flag flips. Call from a dedicated goroutine.
func (d *Dispatcher) Run() {
	log.Printf("dispatcher: receive thread started")
	buf := make([]byte, 2048)

	for !d.shutdown.Load() {
		n, addr, ok, err := d.conn.ReadFrom(buf, recvTimeout)
		if err != nil {
			if d.shutdown.Load() {
				break
			}
			log.Printf("dispatcher: recv error: %v", err)
			continue
		}
		if !ok {
			continue
		}
		d.handle(buf[:n], addr)
	}

	log.Printf("dispatcher: receive thread stopped")
}

func (d *Dispatcher) handle(data []byte, addr *net.UDPAddr) {
	d.st.PacketsReceived.Add(1)

	srcHost := protocol.HostIDFromIP(addr.IP)

	// Loopback stays on so the socket hears our own stream; everything from
	// ourselves is de-duplicated here (locally originated music is injected
	// directly into the synced manager).
	if srcHost == d.st.LocalHost {
		return
	}

	pkt, err := protocol.Decode(data)
	if err != nil {
		d.st.MalformedPackets.Add(1)
		return
	}

	switch p := pkt.(type) {
	case protocol.Realtime:
		if p.Host != srcHost {
			d.st.HostMismatches.Add(1)
			return
		}
		d.realtime.Receive(p)
	case protocol.Synced:
		if p.Host != srcHost {
			d.st.HostMismatches.Add(1)
			return
		}
		d.synced.Receive(p)
	case protocol.SyncedMeta:
		if p.Host != srcHost {
			d.st.HostMismatches.Add(1)
			return
		}
		d.synced.ReceiveMeta(p)
	case protocol.SyncedControl:
		if p.Host != srcHost {
			d.st.HostMismatches.Add(1)
			return
		}
		d.synced.ReceiveControl(p)
	case protocol.RequestFrames:
		if p.Requester != srcHost {
			d.st.HostMismatches.Add(1)
			return
		}
		// Only requests aimed at us reach the music sender.
		if p.Target == d.st.LocalHost && d.onRequest != nil {
			d.onRequest(p)
		}
	case protocol.Ntp:
		d.clk.Handle(p)
	}
}
