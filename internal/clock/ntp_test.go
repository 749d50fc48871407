// ABOUTME: Unit tests for the party clock service
// ABOUTME: Tests offset estimation, median filtering and first-host election
package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/SuperKenVery/wifi-party-go/internal/protocol"
)

type sentLog struct {
	mu      sync.Mutex
	packets []protocol.Packet
}

func (l *sentLog) send(p protocol.Packet) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.packets = append(l.packets, p)
}

func (l *sentLog) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.packets)
}

func TestFirstHostDefinesEpoch(t *testing.T) {
	s := NewService((&sentLog{}).send)

	if s.Synced() {
		t.Fatal("fresh service reports synced")
	}

	s.BecomeFirstHost()
	if !s.Synced() {
		t.Fatal("BecomeFirstHost() did not sync")
	}
	if got := s.Offset(); got != 0 {
		t.Errorf("first host offset = %d, want 0", got)
	}

	// Epoch time advances with local time.
	a := s.Now()
	time.Sleep(2 * time.Millisecond)
	b := s.Now()
	if b <= a {
		t.Errorf("epoch time did not advance: %d then %d", a, b)
	}
}

func TestOffsetEstimationWithSymmetricDelay(t *testing.T) {
	s := NewService((&sentLog{}).send)

	const (
		trueOffset = int64(250_000) // peer is 250 ms ahead
		delay      = int64(3_000)   // 3 ms each way
	)

	// Simulated exchanges: t2 = t1 + delay + offset, t4 = t3 + delay - offset.
	t1 := int64(1_000_000)
	for i := 0; i < medianWindow; i++ {
		t2 := t1 + delay + trueOffset
		t3 := t2 + 100
		t4 := t3 + delay - trueOffset
		s.processSample(t1, t2, t3, t4)
		t1 += 2_000_000
	}

	if !s.Synced() {
		t.Fatal("service not synced after exchanges")
	}
	if err := s.Offset() - trueOffset; err > 2000 || err < -2000 {
		t.Errorf("offset error %dus exceeds 2ms", err)
	}
}

func TestMedianRejectsOutlierSamples(t *testing.T) {
	s := NewService((&sentLog{}).send)

	const trueOffset = int64(100_000)
	t1 := int64(1_000_000)
	for i := 0; i < medianWindow; i++ {
		jitter := int64(0)
		if i == 4 {
			jitter = 40_000 // one congested exchange inside the RTT gate
		}
		t2 := t1 + 1000 + jitter + trueOffset
		t3 := t2 + 50
		t4 := t3 + 1000 - trueOffset
		s.processSample(t1, t2, t3, t4)
		t1 += 2_000_000
	}

	if err := s.Offset() - trueOffset; err > 2000 || err < -2000 {
		t.Errorf("offset error %dus with one outlier, want <= 2ms", err)
	}
}

func TestHighRTTSampleDiscarded(t *testing.T) {
	s := NewService((&sentLog{}).send)

	t1 := int64(1_000_000)
	t2 := t1 + 200_000 // 400 ms round trip, over the gate
	t3 := t2 + 50
	t4 := t3 + 200_000
	s.processSample(t1, t2, t3, t4)

	if s.Synced() {
		t.Error("service synced from a gated sample")
	}
}

func TestEpochRoundTrip(t *testing.T) {
	s := NewService((&sentLog{}).send)
	s.BecomeFirstHost()

	now := time.Now()
	epoch := s.ToEpoch(now)
	back := s.FromEpoch(epoch)

	if d := back.Sub(now); d > time.Millisecond || d < -time.Millisecond {
		t.Errorf("ToEpoch/FromEpoch round trip drifted %v", d)
	}
}

func TestResponderAnswersOnlyWhenSynced(t *testing.T) {
	log := &sentLog{}
	s := NewService(log.send)

	s.Handle(protocol.Ntp{Phase: protocol.PhaseRequest, OriginTs: 42})
	time.Sleep(80 * time.Millisecond)
	if got := log.count(); got != 0 {
		t.Fatalf("unsynced service sent %d responses, want 0", got)
	}

	s.BecomeFirstHost()
	s.Handle(protocol.Ntp{Phase: protocol.PhaseRequest, OriginTs: 43})
	time.Sleep(80 * time.Millisecond)
	if got := log.count(); got != 1 {
		t.Fatalf("synced service sent %d responses, want 1", got)
	}

	resp, ok := log.packets[0].(protocol.Ntp)
	if !ok || resp.Phase != protocol.PhaseResponse {
		t.Fatalf("sent packet = %#v, want ntp response", log.packets[0])
	}
	if resp.OriginTs != 43 {
		t.Errorf("response origin = %d, want 43", resp.OriginTs)
	}
	if resp.TxTs < resp.RecvTs {
		t.Errorf("tx %d before recv %d", resp.TxTs, resp.RecvTs)
	}
}

func TestDuplicateResponseSuppressed(t *testing.T) {
	log := &sentLog{}
	s := NewService(log.send)
	s.BecomeFirstHost()

	// Another peer's response for the same origin arrives before our delay
	// elapses, so we must stay quiet.
	s.Handle(protocol.Ntp{Phase: protocol.PhaseRequest, OriginTs: 7})
	s.Handle(protocol.Ntp{Phase: protocol.PhaseResponse, OriginTs: 7, RecvTs: 1, TxTs: 2})

	time.Sleep(80 * time.Millisecond)
	if got := log.count(); got != 0 {
		t.Errorf("service sent %d responses despite a visible answer, want 0", got)
	}
}

func TestRunElectsFirstHost(t *testing.T) {
	log := &sentLog{}
	s := NewService(log.send)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		s.Run(stop)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for !s.Synced() {
		select {
		case <-deadline:
			t.Fatal("service never became first host")
		case <-time.After(50 * time.Millisecond):
		}
	}

	close(stop)
	<-done

	if log.count() == 0 {
		t.Error("service never sent a sync request")
	}
}
