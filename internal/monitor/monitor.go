// ABOUTME: Read-only stats endpoint
// ABOUTME: Serves roster and network counters over HTTP and WebSocket
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SuperKenVery/wifi-party-go/internal/party"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
)

// Snapshot is the JSON document pushed to monitor clients.
type Snapshot struct {
	Instance  string           `json:"instance"`
	LocalHost string           `json:"local_host"`
	Hosts     []hostView       `json:"hosts"`
	Music     []musicView      `json:"music"`
	Counters  countersView     `json:"counters"`
	Clock     clockView        `json:"clock"`
	Timestamp time.Time        `json:"timestamp"`
}

type hostView struct {
	ID      string              `json:"id"`
	Volume  float32             `json:"volume"`
	Enabled bool                `json:"enabled"`
	Streams []state.StreamStats `json:"streams"`
}

type musicView struct {
	Host    string `json:"host"`
	Stream  uint64 `json:"stream"`
	Title   string `json:"title"`
	Codec   string `json:"codec"`
	Playing bool   `json:"playing"`
}

type countersView struct {
	PacketsReceived  uint64 `json:"packets_received"`
	MalformedPackets uint64 `json:"malformed_packets"`
	HostMismatches   uint64 `json:"host_mismatches"`
}

type clockView struct {
	Synced   bool  `json:"synced"`
	OffsetUs int64 `json:"offset_us"`
	RTTUs    int64 `json:"rtt_us"`
}

// Server exposes the party's state read-only for debugging dashboards. The
// UI boundary never writes through this surface.
type Server struct {
	st    *state.AppState
	p     *party.Party
	httpS *http.Server
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// New creates a monitor server on addr (e.g. "127.0.0.1:7668").
func New(addr string, st *state.AppState, p *party.Party) *Server {
	s := &Server{st: st, p: p}

	mux := http.NewServeMux()
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/ws", s.handleWS)
	s.httpS = &http.Server{Addr: addr, Handler: mux}

	return s
}

// Start serves in the background until Stop.
func (s *Server) Start() {
	go func() {
		if err := s.httpS.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("monitor: server error: %v", err)
		}
	}()
	log.Printf("monitor: stats endpoint on http://%s/stats", s.httpS.Addr)
}

// Stop shuts the endpoint down.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.httpS.Shutdown(ctx)
}

func (s *Server) snapshot() Snapshot {
	hosts := make([]hostView, 0)
	for _, h := range s.st.Snapshot() {
		hosts = append(hosts, hostView{
			ID:      h.ID.String(),
			Volume:  h.Volume,
			Enabled: h.Enabled,
			Streams: h.Streams,
		})
	}

	music := make([]musicView, 0)
	for _, m := range s.p.Synced().ActiveStreams() {
		music = append(music, musicView{
			Host:    m.Host.String(),
			Stream:  m.Stream,
			Title:   m.Title,
			Codec:   m.Codec,
			Playing: m.Playing,
		})
	}

	clk := s.p.Clock()
	return Snapshot{
		Instance:  s.st.InstanceID.String(),
		LocalHost: s.st.LocalHost.String(),
		Hosts:     hosts,
		Music:     music,
		Counters: countersView{
			PacketsReceived:  s.st.PacketsReceived.Load(),
			MalformedPackets: s.st.MalformedPackets.Load(),
			HostMismatches:   s.st.HostMismatches.Load(),
		},
		Clock: clockView{
			Synced:   clk.Synced(),
			OffsetUs: clk.Offset(),
			RTTUs:    clk.RTT(),
		},
		Timestamp: time.Now(),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.snapshot()); err != nil {
		http.Error(w, fmt.Sprintf("encode failed: %v", err), http.StatusInternalServerError)
	}
}

// handleWS streams snapshots at 1 Hz until the client goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("monitor: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}
