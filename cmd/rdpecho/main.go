// Command rdpecho is a minimal RDP echo peer: run with -passive to accept
// one incoming connection, or with -peer to dial one. In either mode it
// writes every payload it receives to stdout and sends what it reads from
// stdin.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/m-lab/go/prometheusx"
	"github.com/m-lab/go/rtx"

	"github.com/soypat/rdp/internal/bufpool"
	"github.com/soypat/rdp/internal/clock"
	"github.com/soypat/rdp/internal/config"
	"github.com/soypat/rdp/internal/connmgr"
	"github.com/soypat/rdp/internal/metrics"
	"github.com/soypat/rdp/rdp"
	"github.com/soypat/rdp/transport/udp"
)

func main() {
	cfg, err := config.Parse(flag.NewFlagSet("rdpecho", flag.ExitOnError), os.Args[1:])
	rtx.Must(err, "parsing flags")

	promSrv := prometheusx.MustStartPrometheus(cfg.PromAddr)
	defer promSrv.Close()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	alloc := bufpool.New()
	wallClock := clock.NewWall()

	transport, err := udp.New(cfg.ListenAddr, alloc, log)
	rtx.Must(err, "binding UDP socket")
	defer transport.Close()

	table := connmgr.NewTable(alloc, transport, wallClock, metrics.Sink{}, cfg.Options(), log)

	go transport.Serve(func(remoteID uint32, pkt *rdp.Packet) {
		if err := table.Deliver(context.Background(), remoteID, pkt); err != nil {
			log.Error("deliver failed", "err", err)
		}
	})
	go tickLoop(table, wallClock)

	ctx := context.Background()
	var conn *rdp.Conn
	if cfg.Passive {
		conn = acceptOne(ctx, table)
	} else {
		remoteID, err := transport.Resolve(cfg.PeerAddr)
		rtx.Must(err, "resolving peer address")
		conn, err = table.Dial(ctx, remoteID)
		rtx.Must(err, "dialing peer")
	}
	log.Info("connection open", "id", conn.ID())

	go echoInbound(ctx, conn, log)
	echoStdin(ctx, conn, log)
}

func acceptOne(ctx context.Context, table *connmgr.Table) *rdp.Conn {
	for {
		if conn, ok := table.TryAccept(); ok {
			return conn
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// tickLoop drives the timeout engine at a fixed 100 ms cadence, well below
// the default timeouts (the smallest default is the 500 ms ack timeout).
func tickLoop(table *connmgr.Table, clk *clock.Wall) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		table.Tick(context.Background(), clk.NowMs())
	}
}

func echoInbound(ctx context.Context, conn *rdp.Conn, log *slog.Logger) {
	for {
		pkt, err := conn.Recv(ctx)
		if err != nil {
			log.Error("recv failed", "err", err)
			return
		}
		os.Stdout.Write(pkt.Payload())
	}
}

func echoStdin(ctx context.Context, conn *rdp.Conn, log *slog.Logger) {
	buf := make([]byte, 512)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if sendErr := conn.Send(ctx, buf[:n]); sendErr != nil {
				log.Error("send failed", "err", sendErr)
				return
			}
		}
		if err != nil {
			return
		}
	}
}
