//go:build !linux

package main

import (
	"errors"

	"github.com/Station-Manager/serialbridge"
)

func setupLoopback(*serialbridge.Registry) (string, string, func(), error) {
	return "", "", nil, errors.New("loopback ports are only available on linux")
}
