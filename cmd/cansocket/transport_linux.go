//go:build linux

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/notnil/cansocket"
)

func openSocket(iface string, bitrate uint, log zerolog.Logger) (endpoint, error) {
	if bitrate > 0 {
		b := uint32(bitrate)
		if err := cansocket.SetInterfaceDown(iface); err != nil {
			return endpoint{}, cansocket.RequireRootOrCapNetAdmin(err)
		}
		if err := cansocket.ConfigureLinuxCANInterface(iface, cansocket.LinuxCANInterfaceOptions{Bitrate: &b}); err != nil {
			return endpoint{}, err
		}
		if err := cansocket.SetInterfaceUp(iface); err != nil {
			return endpoint{}, cansocket.RequireRootOrCapNetAdmin(err)
		}
		log.Info().Str("iface", iface).Uint32("bitrate", b).Msg("interface configured")
	}
	if up, err := cansocket.IsInterfaceUp(iface); err == nil && !up {
		log.Warn().Str("iface", iface).Msg("interface is down, frames will fail until it is up")
	}

	sock, err := cansocket.DialSocketCAN(iface)
	if err != nil {
		return endpoint{}, fmt.Errorf("open %s: %w", iface, cansocket.RequireRootOrCapNetAdmin(err))
	}
	if mtu, err := sock.InterfaceMTU(iface); err == nil && mtu != cansocket.CANMTU {
		log.Debug().Int("mtu", mtu).Msg("interface is not classical CAN only")
	}
	return endpoint{
		conn:    sock,
		rx:      sock,
		ifIndex: sock.InterfaceIndex(),
		close: func() error {
			st := sock.Stats()
			log.Debug().Uint64("send_errors", st.SendErrors).Uint64("receive_errors", st.ReceiveErrors).Msg("socket closed")
			return sock.Close()
		},
	}, nil
}
