//go:build !linux

package main

import (
	"errors"

	"github.com/rs/zerolog"
)

func openSocket(string, uint, zerolog.Logger) (endpoint, error) {
	return endpoint{}, errors.New("SocketCAN requires linux, use -loopback")
}
