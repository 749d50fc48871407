// ABOUTME: Entry point for the Wi-Fi Party peer
// ABOUTME: Parses CLI flags, wires the audio plane and runs the TUI
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/SuperKenVery/wifi-party-go/internal/capture"
	"github.com/SuperKenVery/wifi-party-go/internal/config"
	"github.com/SuperKenVery/wifi-party-go/internal/discovery"
	"github.com/SuperKenVery/wifi-party-go/internal/monitor"
	"github.com/SuperKenVery/wifi-party-go/internal/party"
	"github.com/SuperKenVery/wifi-party-go/internal/state"
	"github.com/SuperKenVery/wifi-party-go/internal/transport"
	"github.com/SuperKenVery/wifi-party-go/internal/ui"
	"github.com/SuperKenVery/wifi-party-go/pkg/audio/output"
)

var (
	name        = flag.String("name", "", "Peer friendly name (default: hostname-party)")
	ifaceName   = flag.String("interface", "", "Network interface to join the group on")
	ipv6        = flag.Bool("ipv6", false, "Also join the IPv6 multicast group")
	tone        = flag.Bool("tone", false, "Send a 440Hz test tone instead of mic capture")
	musicFile   = flag.String("music", "", "Music file (MP3/FLAC) to stream to the party")
	monitorAddr = flag.String("monitor", "", "Stats endpoint address (e.g. 127.0.0.1:7668)")
	noMDNS      = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	logFile     = flag.String("log-file", "wifi-party.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	noAudioOut  = flag.Bool("no-audio-out", false, "Disable the playback device (testing)")
)

func main() {
	flag.Parse()

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	useTUI := !*noTUI
	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	peerName := *name
	if peerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		peerName = fmt.Sprintf("%s-party", hostname)
	}

	cfg := config.Default()
	cfg.Interface = *ifaceName
	cfg.EnableIPv6 = *ipv6

	st := state.New()
	p := party.New(cfg, st, transport.NopLock{})
	if err := p.Start(); err != nil {
		log.Fatalf("failed to start party: %v", err)
	}

	// Capture boundary: the test tone stands in where no platform mic
	// backend is wired up.
	var mic capture.Source
	if *tone {
		mic = capture.NewToneSource()
		if err := mic.Start(p.PushMic); err != nil {
			log.Fatalf("failed to start capture: %v", err)
		}
	}

	// Playback boundary.
	var player output.Player
	if !*noAudioOut {
		player, err = output.NewOto(cfg.SampleRate, cfg.Channels, p.PullPlayback)
		if err != nil {
			log.Printf("playback unavailable, running receive-only: %v", err)
			player = nil
		} else if err := player.Start(); err != nil {
			log.Fatalf("failed to start playback: %v", err)
		}
	}

	var disco *discovery.Manager
	if !*noMDNS {
		disco = discovery.NewManager(discovery.Config{InstanceName: peerName, Port: cfg.Port})
		if err := disco.Advertise(); err != nil {
			log.Printf("mdns advertisement failed: %v", err)
		}
	}

	var mon *monitor.Server
	if *monitorAddr != "" {
		mon = monitor.New(*monitorAddr, st, p)
		mon.Start()
	}

	if *musicFile != "" {
		if err := p.StartMusic(*musicFile); err != nil {
			log.Printf("failed to start music stream: %v", err)
		}
	}

	log.Printf("Wi-Fi Party peer %s running, press Ctrl-C to stop", peerName)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if useTUI {
		prog := tea.NewProgram(ui.New(st, p), tea.WithAltScreen())
		go func() {
			<-sigChan
			prog.Quit()
		}()
		if _, err := prog.Run(); err != nil {
			log.Printf("tui error: %v", err)
		}
	} else {
		<-sigChan
		log.Printf("shutting down...")
	}

	// Shutdown walks the startup list in reverse: devices, then helpers,
	// then the party core.
	if mic != nil {
		mic.Stop()
	}
	if player != nil {
		player.Close()
	}
	if mon != nil {
		mon.Stop()
	}
	if disco != nil {
		disco.Stop()
	}
	p.Stop()
}
