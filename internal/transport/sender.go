// ABOUTME: Network sender
// ABOUTME: Serializes packets and drains a bounded queue onto the group
package transport

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
)

const sendQueueDepth = 256

// Sender fans packets out to the party group from a dedicated thread, so
// pipeline pushes never block on sendto. Transient transport failures are
// logged and counted, never fatal: the multicast group may reappear.
type Sender struct {
	conns []*Conn
	queue chan []byte
	drops atomic.Uint64
	fails atomic.Uint64
	wg    sync.WaitGroup
	once  sync.Once
	stop  chan struct{}
}

// NewSender starts the drain thread over the given group connections.
func NewSender(conns ...*Conn) *Sender {
	s := &Sender{
		conns: conns,
		queue: make(chan []byte, sendQueueDepth),
		stop:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Send serializes and enqueues one packet. A full queue drops the packet
// (freshness wins); only serialization problems surface as errors.
func (s *Sender) Send(p protocol.Packet) error {
	data, err := protocol.Marshal(p)
	if err != nil {
		return err
	}

	select {
	case s.queue <- data:
		return nil
	default:
		s.drops.Add(1)
		return nil
	}
}

func (s *Sender) drain() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stop:
			return
		case data := <-s.queue:
			for _, c := range s.conns {
				if err := c.WriteTo(data); err != nil {
					s.fails.Add(1)
					if !errors.Is(err, net.ErrClosed) {
						log.Printf("transport: send failed: %v", err)
					}
				}
			}
		}
	}
}

// QueueDrops returns packets dropped due to a full send queue.
func (s *Sender) QueueDrops() uint64 {
	return s.drops.Load()
}

// SendFailures returns transient sendto failures.
func (s *Sender) SendFailures() uint64 {
	return s.fails.Load()
}

// Close stops the drain thread. The group connections are closed by their
// owner.
func (s *Sender) Close() {
	s.once.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}
