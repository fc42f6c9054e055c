package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Station-Manager/serialbridge"
)

func main() {
	configPath := flag.String("config", "", "YAML config file; port flags are ignored when set")
	device := flag.String("port", "", "serial device path")
	baud := flag.Int("baud", serialbridge.DefaultBaudRate.Int(), "baud rate")
	dataBits := flag.String("databits", "8", "data bits (5-8)")
	parity := flag.String("parity", "none", "parity (none, odd, even)")
	stopBits := flag.String("stopbits", "1", "stop bits (1 or 2)")
	flow := flag.String("flow", "none", "flow control (none, software, hardware)")
	readTimeout := flag.Duration("read-timeout", 0, "transport read timeout, 0 blocks")
	rate := flag.Int("rate", serialbridge.DefaultTickRate, "foreground ticks per second")
	mode := flag.String("mode", "listen", "what to do with the ports: listen, echo or send")
	payload := flag.String("payload", "123457", "bytes written every tick in send mode")
	loopback := flag.Bool("loopback", false, "link two virtual ports and send the payload from one to the other")
	list := flag.Bool("list", false, "list available serial ports and exit")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")

	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid log level")
	}
	zerolog.SetGlobalLevel(lvl)

	if *list {
		ports, err := serialbridge.AvailablePorts()
		if err != nil {
			log.Fatal().Err(err).Msg("listing ports")
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	registry := &serialbridge.Registry{}
	var cleanup func()
	defer func() {
		if err := registry.CloseAll(); err != nil {
			log.Error().Err(err).Msg("closing ports")
		}
		if cleanup != nil {
			cleanup()
		}
	}()

	var ports []string
	var sendPorts []string

	switch {
	case *loopback:
		a, b, closePair, err := setupLoopback(registry)
		if err != nil {
			log.Fatal().Err(err).Msg("setting up loopback ports")
		}
		cleanup = closePair
		ports = []string{a, b}
		sendPorts = []string{a}
		*mode = "send"

	case *configPath != "":
		cfg, err := serialbridge.LoadConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("loading config")
		}
		zerolog.SetGlobalLevel(cfg.LogLevel)
		*rate = cfg.TickRate
		for _, s := range cfg.Ports {
			if err := registry.OpenWithSettings(s); err != nil {
				log.Fatal().Err(err).Msg("open serial port error")
			}
			ports = append(ports, s.Name)
		}
		sendPorts = ports

	default:
		s, err := settingsFromFlags(*device, *baud, *dataBits, *parity, *stopBits, *flow, *readTimeout)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid port flags")
		}
		if err := registry.OpenWithSettings(s); err != nil {
			log.Fatal().Err(err).Msg("open serial port error")
		}
		ports = []string{s.Name}
		sendPorts = ports
	}

	if len(ports) == 0 {
		log.Fatal().Msg("no serial ports configured")
	}

	bridge := serialbridge.NewBridge(registry)

	systems := []serialbridge.System{metricsSystem(*rate)}
	switch *mode {
	case "listen":
		systems = append(systems, listenSystem(bridge.Events.Reader()))
	case "echo":
		systems = append(systems, echoSystem(bridge.Events.Reader()))
	case "send":
		systems = append(systems, listenSystem(bridge.Events.Reader()), sendSystem(sendPorts, []byte(*payload)))
	default:
		log.Fatal().Str("mode", *mode).Msg("unsupported mode (use listen, echo or send)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Strs("ports", ports).Int("rate", *rate).Str("mode", *mode).Msg("bridge running")
	if err := bridge.Run(ctx, *rate, systems...); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("bridge stopped")
	}
}

func settingsFromFlags(device string, baud int, dataBits, parity, stopBits, flow string, readTimeout time.Duration) (serialbridge.LineSettings, error) {
	if device == "" {
		return serialbridge.LineSettings{}, errors.New("-port is required without -config or -loopback")
	}
	s := serialbridge.DefaultLineSettings(device, baud)
	s.ReadTimeout = readTimeout

	var err error
	if s.DataBits, err = serialbridge.ParseDataBits(dataBits); err != nil {
		return s, err
	}
	if s.Parity, err = serialbridge.ParseParity(parity); err != nil {
		return s, err
	}
	if s.StopBits, err = serialbridge.ParseStopBits(stopBits); err != nil {
		return s, err
	}
	if s.FlowControl, err = serialbridge.ParseFlowControl(flow); err != nil {
		return s, err
	}
	return s, serialbridge.ValidateSettings(s)
}

// listenSystem logs every received record.
func listenSystem(reader *serialbridge.EventReader) serialbridge.System {
	return func(_ *serialbridge.Bridge) {
		for _, ev := range reader.Read() {
			log.Info().Str("port", ev.Port).Bytes("data", ev.Data).Msg("receive")
		}
	}
}

// echoSystem writes every received record back to the port it came from.
func echoSystem(reader *serialbridge.EventReader) serialbridge.System {
	return func(b *serialbridge.Bridge) {
		for _, ev := range reader.Read() {
			log.Info().Str("port", ev.Port).Bytes("data", ev.Data).Msg("receive")
			b.Send(ev.Port, ev.Data)
		}
	}
}

// sendSystem writes payload to each port every tick.
func sendSystem(ports []string, payload []byte) serialbridge.System {
	return func(b *serialbridge.Bridge) {
		for _, p := range ports {
			b.Send(p, payload)
		}
	}
}

// metricsSystem logs per-port counters roughly every ten seconds.
func metricsSystem(rate int) serialbridge.System {
	every := uint64(rate * 10)
	return func(b *serialbridge.Bridge) {
		if every == 0 || b.Ticks()%every != 0 {
			return
		}
		for name, m := range b.Registry.Metrics() {
			log.Debug().
				Str("port", name).
				Int64("bytes_read", m.BytesRead).
				Int64("bytes_written", m.BytesWritten).
				Int64("write_errors", m.WriteErrors).
				Int64("read_errors", m.ReadErrors).
				Str("health", string(m.HealthStatus)).
				Msg("port metrics")
		}
	}
}
