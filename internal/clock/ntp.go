// ABOUTME: Decentralized party clock built on an NTP-like exchange
// ABOUTME: Maps local time onto the shared network epoch
package clock

import (
	"log"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
)

const (
	// Exchange cadence and the gates on sample quality.
	syncInterval   = 2 * time.Second
	rttGateUs      = 100_000
	medianWindow   = 9
	requestTimeout = 500 * time.Millisecond

	// Responder behavior: a random delay lets the first responder win and
	// everyone else suppress their duplicate.
	responseDelayMin = 10 * time.Millisecond
	responseDelayMax = 50 * time.Millisecond
	seenResponseTTL  = 200 * time.Millisecond

	// If nobody answers, this peer is the earliest joiner and its clock
	// becomes the epoch.
	firstHostTimeout = 1500 * time.Millisecond
)

// Service estimates the offset between the local clock and the shared
// network epoch. The epoch is defined by the earliest-joining peer (offset
// zero); later joiners converge onto it through request/response exchanges
// and keep a moving median of the last samples as the applied offset.
//
// The clock is non-authoritative: synced playback uses it only for play_at
// scheduling. Now/ToEpoch/FromEpoch are lock-free and safe from the audio
// thread.
type Service struct {
	send func(protocol.Packet)

	// offset is the applied epoch offset in microseconds, read lock-free.
	offset atomic.Int64
	synced atomic.Bool

	mu           sync.Mutex
	samples      []int64
	pending      map[uint64]pendingRequest
	seen         map[uint64]time.Time
	firstRequest time.Time
	lastRTT      int64
}

type pendingRequest struct {
	sentAt time.Time
}

// NewService creates a clock service that transmits through send.
func NewService(send func(protocol.Packet)) *Service {
	return &Service{
		send:    send,
		pending: make(map[uint64]pendingRequest),
		seen:    make(map[uint64]time.Time),
	}
}

// localMicros is the local clock in microseconds. Wall micros keep epoch
// values comparable across process restarts on the first host.
func (s *Service) localMicros() int64 {
	return time.Now().UnixMicro()
}

// Now returns the current time on the network epoch in microseconds.
func (s *Service) Now() uint64 {
	v := s.localMicros() + s.offset.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// ToEpoch maps a local instant onto the network epoch.
func (s *Service) ToEpoch(t time.Time) uint64 {
	v := t.UnixMicro() + s.offset.Load()
	if v < 0 {
		return 0
	}
	return uint64(v)
}

// FromEpoch maps an epoch timestamp back to a local instant.
func (s *Service) FromEpoch(epochUs uint64) time.Time {
	return time.UnixMicro(int64(epochUs) - s.offset.Load())
}

// Synced reports whether this peer has an epoch, own or learned.
func (s *Service) Synced() bool {
	return s.synced.Load()
}

// Offset returns the applied offset in microseconds.
func (s *Service) Offset() int64 {
	return s.offset.Load()
}

// RTT returns the last accepted round trip in microseconds.
func (s *Service) RTT() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRTT
}

// BecomeFirstHost defines the epoch as this peer's clock.
func (s *Service) BecomeFirstHost() {
	if s.synced.CompareAndSwap(false, true) {
		log.Printf("clock: becoming first host, defining party epoch")
		s.offset.Store(0)
	}
}

// Handle processes one clock packet from the dispatcher.
func (s *Service) Handle(p protocol.Ntp) {
	switch p.Phase {
	case protocol.PhaseRequest:
		s.onRequest(p)
	case protocol.PhaseResponse:
		s.onResponse(p)
	}
}

// onRequest answers with epoch stamps after a random delay, unless another
// peer's answer for the same request shows up first on the group.
func (s *Service) onRequest(p protocol.Ntp) {
	if !s.synced.Load() {
		return
	}
	recvTs := s.Now()
	origin := p.OriginTs

	delay := responseDelayMin + time.Duration(rand.Int63n(int64(responseDelayMax-responseDelayMin)))
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, answered := s.seen[origin]
		s.mu.Unlock()
		if answered {
			return
		}
		s.send(protocol.Ntp{
			Phase:    protocol.PhaseResponse,
			OriginTs: origin,
			RecvTs:   recvTs,
			TxTs:     s.Now(),
		})
	})
}

func (s *Service) onResponse(p protocol.Ntp) {
	t4 := s.localMicros()

	s.mu.Lock()
	s.seen[p.OriginTs] = time.Now()
	_, ours := s.pending[p.OriginTs]
	if ours {
		delete(s.pending, p.OriginTs)
	}
	s.mu.Unlock()

	if !ours {
		return
	}
	s.processSample(int64(p.OriginTs), int64(p.RecvTs), int64(p.TxTs), t4)
}

// processSample folds one exchange into the offset estimate. Split out so
// tests can feed synthetic timestamps.
func (s *Service) processSample(t1, t2, t3, t4 int64) {
	rtt := (t4 - t1) - (t3 - t2)
	sample := ((t2 - t1) + (t3 - t4)) / 2

	if rtt < 0 || rtt > rttGateUs {
		log.Printf("clock: discarding sync sample, rtt=%dus", rtt)
		return
	}

	s.mu.Lock()
	s.lastRTT = rtt
	s.samples = append(s.samples, sample)
	if len(s.samples) > medianWindow {
		s.samples = s.samples[len(s.samples)-medianWindow:]
	}
	applied := median(s.samples)
	s.mu.Unlock()

	s.offset.Store(applied)
	if s.synced.CompareAndSwap(false, true) {
		log.Printf("clock: synced to party epoch, offset=%dus rtt=%dus", applied, rtt)
	}
}

func median(samples []int64) int64 {
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// sendRequest emits one sync request stamped with local time; the stamp
// doubles as the request identifier.
func (s *Service) sendRequest() {
	t1 := uint64(s.localMicros())

	s.mu.Lock()
	s.pending[t1] = pendingRequest{sentAt: time.Now()}
	if s.firstRequest.IsZero() {
		s.firstRequest = time.Now()
	}
	s.mu.Unlock()

	s.send(protocol.Ntp{Phase: protocol.PhaseRequest, OriginTs: t1})
}

// Run drives the periodic exchange until stop closes. Timeouts here are
// normal data events, not errors.
func (s *Service) Run(stop <-chan struct{}) {
	log.Printf("clock: service started")

	syncTicker := time.NewTicker(syncInterval)
	housekeeping := time.NewTicker(time.Second)
	election := time.NewTicker(100 * time.Millisecond)
	defer syncTicker.Stop()
	defer housekeeping.Stop()
	defer election.Stop()

	s.sendRequest()

	for {
		select {
		case <-stop:
			log.Printf("clock: service stopped")
			return
		case <-syncTicker.C:
			s.sendRequest()
		case <-housekeeping.C:
			now := time.Now()
			s.mu.Lock()
			for id, req := range s.pending {
				if now.Sub(req.sentAt) > requestTimeout {
					delete(s.pending, id)
				}
			}
			for id, at := range s.seen {
				if now.Sub(at) > seenResponseTTL {
					delete(s.seen, id)
				}
			}
			s.mu.Unlock()
		case <-election.C:
			if s.synced.Load() {
				continue
			}
			s.mu.Lock()
			waited := !s.firstRequest.IsZero() && time.Since(s.firstRequest) >= firstHostTimeout
			s.mu.Unlock()
			if waited {
				log.Printf("clock: no response after %v", firstHostTimeout)
				s.BecomeFirstHost()
			}
		}
	}
}
