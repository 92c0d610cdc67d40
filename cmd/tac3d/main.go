package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tac3d.report/internal/config"
	"github.com/banshee-data/tac3d.report/internal/monitoring"
	"github.com/banshee-data/tac3d.report/internal/tactile"
	"github.com/banshee-data/tac3d.report/internal/tactile/l2reassembly"
	"github.com/banshee-data/tac3d.report/internal/tactile/monitor"
	"github.com/banshee-data/tac3d.report/internal/tactile/network"
	"github.com/banshee-data/tac3d.report/internal/tactile/session"
	"github.com/banshee-data/tac3d.report/internal/tactile/storage/sqlite"
	"github.com/banshee-data/tac3d.report/internal/version"
)

var (
	configFile     = flag.String("config", "", "Path to a receiver JSON config (default: built-in defaults)")
	listen         = flag.String("listen", ":8081", "HTTP monitor listen address (empty disables the monitor)")
	udpPort        = flag.Int("udp-port", config.DefaultListenPort, "UDP port to receive sensor datagrams on")
	udpAddress     = flag.String("udp-addr", "", "UDP bind address (default: listen on all interfaces)")
	rcvBuf         = flag.Int("rcvbuf", config.DefaultRcvBuf, "UDP receive buffer size in bytes")
	logInterval    = flag.Duration("log-interval", config.DefaultLogInterval, "Statistics logging interval")
	byteOrder      = flag.String("byte-order", config.DefaultByteOrder, "Byte order of sub-headers and field data: native, little or big")
	forwardPackets = flag.Bool("forward", false, "Forward received UDP datagrams to another endpoint")
	forwardPort    = flag.Int("forward-port", 9989, "Port to forward UDP datagrams to")
	forwardAddr    = flag.String("forward-addr", "localhost", "Address to forward UDP datagrams to")
	dbFile         = flag.String("db", "", "Path to a SQLite database for frame summaries (empty disables recording)")
	pcapFile       = flag.String("pcap", "", "Replay datagrams from a capture file instead of listening")
	historySize    = flag.Int("history", monitor.DefaultHistorySize, "Force samples kept per sensor for the monitor chart")
	verbose        = flag.Bool("verbose", false, "Log every dropped datagram and skipped field")
	showVersion    = flag.Bool("version", false, "Print the version and exit")
)

// loadConfig reads -config and lets explicitly set flags override it.
func loadConfig() (*config.ReceiverConfig, error) {
	cfg := config.DefaultReceiverConfig()
	if *configFile != "" {
		loaded, err := config.LoadReceiverConfig(*configFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "udp-port":
			cfg.ListenPort = udpPort
		case "udp-addr":
			cfg.ListenAddress = udpAddress
		case "rcvbuf":
			cfg.RcvBuf = rcvBuf
		case "log-interval":
			s := logInterval.String()
			cfg.LogInterval = &s
		case "byte-order":
			cfg.ByteOrder = byteOrder
		case "verbose":
			cfg.Verbose = verbose
		}
	})
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("tac3d %s\n", version.Get())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	monitoring.SetVerbose(cfg.GetVerbose())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := tactile.NewDatagramStats()
	history := monitor.NewForceHistory(*historySize)

	var recorder *sqlite.Recorder
	var sinkRecorder frameRecorder
	if *dbFile != "" {
		recorder, err = sqlite.Open(*dbFile, nil)
		if err != nil {
			log.Fatalf("Failed to open frame database: %v", err)
		}
		defer recorder.Close()
		sinkRecorder = recorder
		log.Printf("Recording frame summaries to %s (run %s)", *dbFile, recorder.RunID())
	}

	var forwarder *network.DatagramForwarder
	if *forwardPackets {
		forwarder, err = network.NewDatagramForwarder(*forwardAddr, *forwardPort, stats, cfg.GetLogInterval())
		if err != nil {
			log.Fatalf("Failed to create forwarder: %v", err)
		}
		defer forwarder.Close()
		forwarder.Start(ctx)
		log.Printf("Forwarding datagrams to %s", forwarder.Address())
	}

	// The config's zero means no queue; the session's zero means default.
	queueSize := cfg.GetFrameQueueSize()
	if queueSize == 0 {
		queueSize = -1
		log.Printf("Frame queue disabled: force history and recording are inactive")
	}

	sink := newFrameSink(history, sinkRecorder)
	sess, err := session.New(session.Config{
		Listener: network.UDPListenerConfig{
			Address:     cfg.GetListenAddress(),
			RcvBuf:      cfg.GetRcvBuf(),
			LogInterval: cfg.GetLogInterval(),
			Forwarder:   forwarder,
		},
		Pool: l2reassembly.PoolConfig{
			Capacity:            cfg.GetPoolCapacity(),
			MaxDatagramSize:     cfg.GetMaxDatagramSize(),
			MaxFramePayloadSize: cfg.GetMaxFramePayloadSize(),
			ReceiveTimeout:      cfg.GetReceiveTimeout(),
		},
		Order:          cfg.GetByteOrder(),
		FrameQueueSize: queueSize,
		Callback:       sink.Notify,
		Stats:          stats,
	})
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	sink.source = sess

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sink.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if *pcapFile != "" {
			replay(ctx, sess, cfg.GetListenPort())
			if *listen == "" {
				stop()
			}
			<-ctx.Done()
			return
		}
		log.Printf("Receiving Tac3D datagrams on %s", cfg.GetListenAddress())
		if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("UDP listener error: %v", err)
		}
		log.Print("UDP listener routine terminated")
	}()

	if *listen != "" {
		monitorCfg := monitor.WebServerConfig{
			Address: *listen,
			Sensors: sess,
			Stats:   stats,
			History: history,
		}
		if recorder != nil {
			monitorCfg.Frames = recorder
		}
		ws := monitor.NewWebServer(monitorCfg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ws.Start(ctx); err != nil {
				log.Printf("Monitor server error: %v", err)
			}
		}()
	}

	go func() {
		if err := sess.WaitUntilReady(ctx); err == nil {
			log.Printf("Sensor ready, delivering frames")
		}
	}()

	wg.Wait()
	stats.LogStats()
	log.Printf("Graceful shutdown complete")
}

// replay feeds a capture through the session's dispatcher.
func replay(ctx context.Context, sess *session.Session, port int) {
	start := time.Now()
	log.Printf("Replaying %s (udp port %d)", *pcapFile, port)
	err := network.ReadPCAPFile(ctx, *pcapFile, port, sess.Dispatcher(), sess.Stats())
	switch {
	case err == nil:
		log.Printf("Replay of %s complete in %v", *pcapFile, time.Since(start).Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
	default:
		log.Printf("Replay failed: %v", err)
	}
}
