// Package config parses cmd/rdpecho's flags, with every flag also
// settable by an environment variable of the same name, the way
// m-lab-tcp-info/main.go layers github.com/m-lab/go/flagx over the
// standard flag package instead of hand-rolling os.Getenv lookups.
package config

import (
	"flag"

	"github.com/m-lab/go/flagx"

	"github.com/soypat/rdp/rdp"
)

// Config holds everything cmd/rdpecho needs to stand up one side of an
// RDP connection over a real UDP transport.
type Config struct {
	ListenAddr string
	PeerAddr   string
	PromAddr   string
	Passive    bool

	WindowSize      uint
	ConnTimeoutMs   uint
	PacketTimeoutMs uint
	DelayedAcks     bool
	AckTimeoutMs    uint
	AckDelayCount   uint
}

// Parse registers rdpecho's flags against fs, applies any matching
// environment variable overrides, and parses args.
func Parse(fs *flag.FlagSet, args []string) (Config, error) {
	def := rdp.DefaultOptions()
	var c Config
	fs.StringVar(&c.ListenAddr, "listen", ":7908", "local UDP address to bind")
	fs.StringVar(&c.PeerAddr, "peer", "", "remote UDP address to actively open a connection to")
	fs.StringVar(&c.PromAddr, "prom", ":9090", "Prometheus metrics export address")
	fs.BoolVar(&c.Passive, "passive", false, "wait for an incoming connection instead of dialing -peer")
	fs.UintVar(&c.WindowSize, "window", uint(def.WindowSize), "sliding window size, in segments")
	fs.UintVar(&c.ConnTimeoutMs, "conn-timeout-ms", uint(def.ConnTimeoutMs), "handshake/idle connection timeout")
	fs.UintVar(&c.PacketTimeoutMs, "packet-timeout-ms", uint(def.PacketTimeoutMs), "retransmission timeout")
	fs.BoolVar(&c.DelayedAcks, "delayed-acks", def.DelayedAcks, "enable delayed acknowledgements")
	fs.UintVar(&c.AckTimeoutMs, "ack-timeout-ms", uint(def.AckTimeoutMs), "delayed-ack timer")
	fs.UintVar(&c.AckDelayCount, "ack-delay-count", uint(def.AckDelayCount), "segments accumulated before a forced ack")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := flagx.ArgsFromEnv(fs); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Options converts the parsed flags into an rdp.Options snapshot.
func (c Config) Options() rdp.Options {
	return rdp.Options{
		WindowSize:      rdp.Size(c.WindowSize),
		ConnTimeoutMs:   uint32(c.ConnTimeoutMs),
		PacketTimeoutMs: uint32(c.PacketTimeoutMs),
		DelayedAcks:     c.DelayedAcks,
		AckTimeoutMs:    uint32(c.AckTimeoutMs),
		AckDelayCount:   uint32(c.AckDelayCount),
	}
}
