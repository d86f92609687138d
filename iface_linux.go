//go:build linux

package cansocket

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strconv"

	"golang.org/x/sys/unix"
)

// Interface lookup and link state helpers.
//
// Bringing interfaces up/down requires CAP_NET_ADMIN. Without sufficient
// privileges the calls return EPERM; see RequireRootOrCapNetAdmin.

// InterfaceIndex resolves a network interface name to its index.
func InterfaceIndex(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, fmt.Errorf("cansocket: interface %q: %w", name, err)
	}
	return ifi.Index, nil
}

// InterfaceName resolves an interface index to its name.
func InterfaceName(index int) (string, error) {
	ifi, err := net.InterfaceByIndex(index)
	if err != nil {
		return "", fmt.Errorf("cansocket: interface #%d: %w", index, err)
	}
	return ifi.Name, nil
}

func ifreqFlags(name string, set func(uint16) (uint16, bool)) (uint16, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("cansocket: invalid interface name %q: %w", name, err)
	}
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, os.NewSyscallError("socket", err)
	}
	defer unix.Close(fd)
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return 0, err
	}
	flags := ifr.Uint16()
	if set == nil {
		return flags, nil
	}
	next, change := set(flags)
	if !change {
		return flags, nil
	}
	ifr.SetUint16(next)
	if err := unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr); err != nil {
		return flags, err
	}
	return next, nil
}

// InterfaceMTU returns the MTU of a network interface: CANMTU for classic CAN
// devices, CANFDMTU for CAN FD capable ones.
func InterfaceMTU(name string) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return 0, os.NewSyscallError("socket", err)
	}
	defer unix.Close(fd)
	return ifreqMTU(fd, name)
}

func ifreqMTU(fd int, name string) (int, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return 0, fmt.Errorf("cansocket: invalid interface name %q: %w", name, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFMTU, ifr); err != nil {
		return 0, fmt.Errorf("cansocket: mtu of %q: %w", name, err)
	}
	return int(ifr.Uint32()), nil
}

// IsInterfaceUp returns true if the Linux network interface has IFF_UP set.
func IsInterfaceUp(name string) (bool, error) {
	flags, err := ifreqFlags(name, nil)
	if err != nil {
		return false, err
	}
	return flags&unix.IFF_UP != 0, nil
}

// SetInterfaceUp sets IFF_UP on the given interface. Requires CAP_NET_ADMIN.
func SetInterfaceUp(name string) error {
	_, err := ifreqFlags(name, func(f uint16) (uint16, bool) {
		return f | unix.IFF_UP, f&unix.IFF_UP == 0
	})
	return err
}

// SetInterfaceDown clears IFF_UP on the given interface. Requires CAP_NET_ADMIN.
func SetInterfaceDown(name string) error {
	_, err := ifreqFlags(name, func(f uint16) (uint16, bool) {
		return f &^ unix.IFF_UP, f&unix.IFF_UP != 0
	})
	return err
}

// RequireRootOrCapNetAdmin maps EPERM to an error advising to grant
// CAP_NET_ADMIN. Other errors are returned unchanged.
func RequireRootOrCapNetAdmin(err error) error {
	if errors.Is(err, unix.EPERM) {
		return fmt.Errorf("operation requires CAP_NET_ADMIN (or root): %w", err)
	}
	return err
}

// LinuxCANInterfaceOptions controls common CAN interface parameters through the system `ip` tool.
//
// Changing bitrate/restart-ms typically requires the interface to be DOWN.
type LinuxCANInterfaceOptions struct {
	// Bitrate in bits per second (e.g., 125000, 500000). Nil leaves it unchanged.
	Bitrate *uint32

	// RestartMs is the bus-off recovery delay; 0 disables auto-restart.
	RestartMs *uint32

	// TxQueueLen sets the transmit queue length in frames.
	TxQueueLen *int
}

// ConfigureLinuxCANInterface applies the non-nil options with iproute2.
// Requires CAP_NET_ADMIN (or root).
func ConfigureLinuxCANInterface(name string, opts LinuxCANInterfaceOptions) error {
	if len(name) == 0 || len(name) >= unix.IFNAMSIZ {
		return fmt.Errorf("cansocket: invalid interface name %q", name)
	}
	if opts.TxQueueLen != nil {
		if err := runIP("link", "set", "dev", name, "txqueuelen", strconv.Itoa(*opts.TxQueueLen)); err != nil {
			return err
		}
	}
	if opts.Bitrate == nil && opts.RestartMs == nil {
		return nil
	}
	args := []string{"link", "set", "dev", name, "type", "can"}
	if opts.Bitrate != nil {
		args = append(args, "bitrate", strconv.FormatUint(uint64(*opts.Bitrate), 10))
	}
	if opts.RestartMs != nil {
		args = append(args, "restart-ms", strconv.FormatUint(uint64(*opts.RestartMs), 10))
	}
	return runIP(args...)
}

func runIP(args ...string) error {
	out, err := exec.Command("ip", args...).CombinedOutput()
	if err != nil {
		return RequireRootOrCapNetAdmin(fmt.Errorf("ip %v failed: %w; output: %s", args, err, out))
	}
	return nil
}
