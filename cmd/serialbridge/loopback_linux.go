package main

import (
	"github.com/rs/zerolog/log"

	"github.com/Station-Manager/serialbridge"
	"github.com/Station-Manager/serialbridge/virtual"
)

func setupLoopback(registry *serialbridge.Registry) (string, string, func(), error) {
	pair, err := virtual.NewPair("P1", "P2")
	if err != nil {
		return "", "", nil, err
	}
	cleanup := func() {
		if err := pair.Close(); err != nil {
			log.Warn().Err(err).Msg("closing virtual ports")
		}
	}

	registry.Opener = pair.Opener(serialbridge.OpenSerial)
	for _, name := range []string{pair.A, pair.B} {
		if err := registry.Open(name, serialbridge.DefaultBaudRate.Int()); err != nil {
			cleanup()
			return "", "", nil, err
		}
	}
	return pair.A, pair.B, cleanup, nil
}
