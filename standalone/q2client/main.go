// Command q2client connects to a vanilla Quake II server, completes the
// handshake, and logs the events it decodes out of the server's message
// stream until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	stdlog "log"

	"github.com/fragglet/q2client/protocol"
	"github.com/fragglet/q2client/session"
)

var opt struct {
	Server      string
	LocalPort   int
	Version     string
	MetricsAddr string
	Help        bool
}

func init() {
	pflag.StringVarP(&opt.Server, "server", "s", "127.0.0.1:27910", "Address of the Quake II server")
	pflag.IntVarP(&opt.LocalPort, "local-port", "p", 0, "Local UDP port to bind (0 picks one)")
	pflag.StringVarP(&opt.Version, "version-string", "V", "q2client 1.0", "Version string reported to the server")
	pflag.StringVar(&opt.MetricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address")
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

var (
	packetsReceived     = metrics.NewCounter(`q2client_packets_received_total`)
	reliableRetransmits = metrics.NewCounter(`q2client_reliable_retransmits_total`)
)

func eventsTotal(op protocol.ServerOp) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`q2client_events_total{op=%q}`, op.String()))
}

// zerologWriter adapts a zerolog.Logger to the io.Writer stdlib's
// log.Logger wants, so the core session/netchan packages keep depending
// only on *log.Logger while this binary gets structured output.
type zerologWriter struct {
	logger zerolog.Logger
}

func (w zerologWriter) Write(p []byte) (int, error) {
	w.logger.Info().Msg(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func main() {
	pflag.Parse()
	if opt.Help {
		fmt.Fprintf(os.Stderr, "usage: %s [options]\n\noptions:\n%s", os.Args[0], pflag.CommandLine.FlagUsages())
		os.Exit(0)
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	logger := stdlog.New(zerologWriter{zlog}, "", 0)

	if opt.MetricsAddr != "" {
		go serveMetrics(opt.MetricsAddr, logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		cancel()
	}()

	sess, err := session.New(session.Config{
		ServerAddress: opt.Server,
		LocalPort:     opt.LocalPort,
		Version:       opt.Version,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatalf("create session: %v", err)
	}
	defer sess.Close()

	if err := sess.Handshake(ctx); err != nil {
		logger.Fatalf("handshake failed: %v", err)
	}
	logger.Printf("connected to %s", opt.Server)

	var lastRetransmits uint64
	for ctx.Err() == nil {
		events, err := sess.Pump(ctx)
		packetsReceived.Add(len(events))
		for _, ev := range events {
			eventsTotal(ev.Op).Inc()
			logEvent(logger, ev)
		}
		if r := sess.Retransmits(); r > lastRetransmits {
			reliableRetransmits.Add(int(r - lastRetransmits))
			lastRetransmits = r
		}
		if err != nil {
			logger.Printf("pump error: %v", err)
			return
		}
		if !sess.Connected() {
			logger.Printf("disconnected")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func logEvent(logger *stdlog.Logger, ev protocol.Event) {
	switch ev.Kind {
	case protocol.EventPrint:
		logger.Printf("print[%s]: %s", ev.PrintLevel, ev.Bytes)
	case protocol.EventCenterPrint:
		logger.Printf("centerprint: %s", ev.Bytes)
	case protocol.EventServerData:
		logger.Printf("serverdata: gamedir=%s level=%s clnum=%d",
			ev.ServerData.Gamedir, ev.ServerData.Levelname, ev.ServerData.ClientNum)
	case protocol.EventConfigString:
		logger.Printf("configstring[%d]: %s", ev.ConfigString.Index, ev.ConfigString.Value)
	case protocol.EventDeltaEntity:
		logger.Printf("baseline: entity %d", ev.DeltaEntity.Number)
	case protocol.EventDisconnect:
		logger.Printf("server disconnected us")
	case protocol.EventReconnect:
		logger.Printf("server asked us to reconnect")
	}
}

func serveMetrics(addr string, logger *stdlog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Printf("metrics server exited: %v", err)
	}
}
