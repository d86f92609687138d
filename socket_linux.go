//go:build linux

package cansocket

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval bounds a single wait so cancellation and Close are noticed
// even when the context carries no deadline.
const pollInterval = 50 * time.Millisecond

// Socket is a raw SocketCAN socket. It implements Bus for the interface it is
// bound to and Transmitter for addressed sends to any interface.
type Socket struct {
	fd        int
	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	ifIndex int
	filters []Filter

	sendErrors atomic.Uint64
	recvErrors atomic.Uint64
}

// SocketStats holds the error counters of Send and Receive. Addressed
// TransmitFrame calls are not counted.
type SocketStats struct {
	SendErrors    uint64
	ReceiveErrors uint64
}

var (
	_ Bus         = (*Socket)(nil)
	_ Transmitter = (*Socket)(nil)
)

// Open creates an unbound, non-blocking raw CAN socket.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.CAN_RAW)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	return &Socket{
		fd:      fd,
		closed:  make(chan struct{}),
		filters: []Filter{FilterAny},
	}, nil
}

// DialSocketCAN opens a raw CAN socket bound to the given interface name (e.g., "can0").
func DialSocketCAN(iface string) (*Socket, error) {
	s, err := Open()
	if err != nil {
		return nil, err
	}
	if err := s.BindName(iface); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Bind binds the socket to an interface index. Index 0 receives from all
// CAN interfaces.
func (s *Socket) Bind(ifIndex int) error {
	if err := unix.Bind(s.fd, &unix.SockaddrCAN{Ifindex: ifIndex}); err != nil {
		return os.NewSyscallError("bind", err)
	}
	s.mu.Lock()
	s.ifIndex = ifIndex
	s.mu.Unlock()
	return nil
}

// BindName resolves the interface name and binds to it.
func (s *Socket) BindName(iface string) error {
	idx, err := InterfaceIndex(iface)
	if err != nil {
		return err
	}
	return s.Bind(idx)
}

// InterfaceIndex returns the index the socket is bound to.
func (s *Socket) InterfaceIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ifIndex
}

// Close closes the socket. It is safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = unix.Close(s.fd)
	})
	return err
}

// Send writes one frame to the bound interface. Failures other than a
// closed socket are counted in Stats.
func (s *Socket) Send(ctx context.Context, frame Frame) error {
	buf, err := frame.MarshalBinary()
	if err != nil {
		return err
	}
	err = s.write(ctx, func() (int, error) {
		return unix.Write(s.fd, buf)
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		s.sendErrors.Add(1)
	}
	return err
}

// TransmitFrame sends one frame with an opaque raw identifier to the given
// interface index using sendto(2). Its failures are left to the caller and
// not counted in Stats.
func (s *Socket) TransmitFrame(ctx context.Context, ifIndex int, id uint32, data []byte) error {
	if len(data) > MaxDataLen {
		return ErrInvalidLen
	}
	var buf [CANMTU]byte
	putRaw(buf[:], id, data)
	to := &unix.SockaddrCAN{Ifindex: ifIndex}
	return s.write(ctx, func() (int, error) {
		return unix.SendmsgN(s.fd, buf[:], nil, to, 0)
	})
}

func (s *Socket) write(ctx context.Context, op func() (int, error)) error {
	for {
		if s.isClosed() {
			return ErrClosed
		}
		n, err := op()
		switch {
		case err == nil:
			if n != CANMTU {
				return ErrShortWrite
			}
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.ENOBUFS):
			// Transmit queue full.
			if werr := s.wait(ctx, unix.POLLOUT); werr != nil {
				return werr
			}
		default:
			return os.NewSyscallError("write", err)
		}
	}
}

// Receive reads one frame, waiting until one arrives or ctx is done.
func (s *Socket) Receive(ctx context.Context) (Frame, error) {
	var buf [CANMTU]byte
	for {
		if s.isClosed() {
			return Frame{}, ErrClosed
		}
		n, err := unix.Read(s.fd, buf[:])
		switch {
		case err == nil:
			if n != CANMTU {
				s.recvErrors.Add(1)
				return Frame{}, ErrShortRead
			}
			var f Frame
			if err := f.UnmarshalBinary(buf[:]); err != nil {
				s.recvErrors.Add(1)
				return Frame{}, err
			}
			return f, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if werr := s.wait(ctx, unix.POLLIN); werr != nil {
				return Frame{}, werr
			}
		default:
			s.recvErrors.Add(1)
			return Frame{}, os.NewSyscallError("read", err)
		}
	}
}

func (s *Socket) wait(ctx context.Context, events int16) error {
	timeout := pollInterval
	if deadline, ok := ctx.Deadline(); ok {
		d := time.Until(deadline)
		if d <= 0 {
			return context.DeadlineExceeded
		}
		if d < timeout {
			timeout = d
		}
	}
	fds := []unix.PollFd{{Fd: int32(s.fd), Events: events}}
	if _, err := unix.Poll(fds, int(timeout/time.Millisecond)); err != nil && !errors.Is(err, unix.EINTR) {
		return os.NewSyscallError("poll", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	default:
		return nil
	}
}

func (s *Socket) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Stats returns the error counters of Send and Receive.
func (s *Socket) Stats() SocketStats {
	return SocketStats{
		SendErrors:    s.sendErrors.Load(),
		ReceiveErrors: s.recvErrors.Load(),
	}
}

// InterfaceMTU queries the MTU of a network interface: CANMTU for classic
// CAN devices, CANFDMTU for CAN FD capable ones.
func (s *Socket) InterfaceMTU(iface string) (int, error) {
	return ifreqMTU(s.fd, iface)
}

// SetFilters replaces the kernel receive filters. Calling it without filters
// disables reception entirely.
func (s *Socket) SetFilters(filters ...Filter) error {
	kf := make([]unix.CanFilter, len(filters))
	for i, f := range filters {
		kf[i] = unix.CanFilter{Id: f.kernelID(), Mask: f.Mask}
	}
	if err := unix.SetsockoptCanRawFilter(s.fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, kf); err != nil {
		return os.NewSyscallError("setsockopt CAN_RAW_FILTER", err)
	}
	s.mu.Lock()
	s.filters = append([]Filter(nil), filters...)
	s.mu.Unlock()
	return nil
}

// Filters returns the receive filters last applied with SetFilters. A fresh
// socket reports a single FilterAny, matching the kernel default.
func (s *Socket) Filters() []Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Filter(nil), s.filters...)
}

// SetErrorMask selects which error classes are delivered as error frames.
func (s *Socket) SetErrorMask(mask uint32) error {
	return s.setOpt(unix.CAN_RAW_ERR_FILTER, int(mask))
}

// SetLoopback toggles local loopback of sent frames to other sockets.
func (s *Socket) SetLoopback(on bool) error {
	return s.setOpt(unix.CAN_RAW_LOOPBACK, boolInt(on))
}

// Loopback reports whether local loopback is enabled.
func (s *Socket) Loopback() (bool, error) {
	return s.getBool(unix.CAN_RAW_LOOPBACK)
}

// SetRecvOwnMsgs toggles reception of the socket's own sent frames.
func (s *Socket) SetRecvOwnMsgs(on bool) error {
	return s.setOpt(unix.CAN_RAW_RECV_OWN_MSGS, boolInt(on))
}

// RecvOwnMsgs reports whether the socket receives its own frames.
func (s *Socket) RecvOwnMsgs() (bool, error) {
	return s.getBool(unix.CAN_RAW_RECV_OWN_MSGS)
}

func (s *Socket) setOpt(opt, v int) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_CAN_RAW, opt, v); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	return nil
}

func (s *Socket) getBool(opt int) (bool, error) {
	v, err := unix.GetsockoptInt(s.fd, unix.SOL_CAN_RAW, opt)
	if err != nil {
		return false, os.NewSyscallError("getsockopt", err)
	}
	return v == 1, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
