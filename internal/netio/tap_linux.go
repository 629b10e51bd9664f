//go:build linux

package netio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/quietmachine/tapstack/internal/netstack/ethernet"
	"github.com/quietmachine/tapstack/internal/wire"
)

// tunPath is the kernel character device used to negotiate TUN/TAP
// devices.
const tunPath = "/dev/net/tun"

// fSetSig is F_SETSIG (man 2 fcntl): a Linux-only fcntl command not
// exported by golang.org/x/sys/unix, used to rebind async I/O delivery
// from SIGIO to the device's assigned real-time signal.
const fSetSig = 0xa

// maxFrame bounds a single TAP read: an Ethernet II header plus the
// largest payload this stack's codec accepts.
const maxFrame = ethernet.HeaderLen + ethernet.MaxPayload

// ifreqFlags is the subset of struct ifreq used by TUNSETIFF.
type ifreqFlags struct {
	name  [unix.IFNAMSIZ]byte
	flags uint16
	_     [22]byte
}

// ifreqMTU is the subset of struct ifreq used by SIOCGIFMTU.
type ifreqMTU struct {
	name [unix.IFNAMSIZ]byte
	mtu  int32
	_    [20]byte
}

// ifreqHWAddr is the subset of struct ifreq used by SIOCGIFHWADDR.
type ifreqHWAddr struct {
	name   [unix.IFNAMSIZ]byte
	family uint16
	data   [14]byte
}

// TAPDriver implements device.Driver over a kernel TAP device:
// Transmit/ISR read and write whole Ethernet frames, and the device's
// MAC/MTU are discovered from the kernel at Open time.
type TAPDriver struct {
	fd  int
	mac wire.MAC
}

// OpenTAP negotiates a layer-2 TAP device named name with the kernel,
// arms async signal delivery targeted at this process and rebound to
// irq's real-time signal, and discovers the device's MTU and hardware
// address.
func OpenTAP(name string, irq int) (drv *TAPDriver, mac wire.MAC, mtu int, err error) {
	fd, err := unix.Open(tunPath, unix.O_RDWR, 0)
	if err != nil {
		return nil, wire.MAC{}, 0, fmt.Errorf("netio: open %s: %w", tunPath, err)
	}

	var ifr ifreqFlags
	copy(ifr.name[:], name)
	ifr.flags = unix.IFF_TAP | unix.IFF_NO_PI
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.TUNSETIFF), uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		unix.Close(fd)
		return nil, wire.MAC{}, 0, fmt.Errorf("netio: TUNSETIFF %s: %w", name, errno)
	}

	mtu, err = ifaceMTU(name)
	if err != nil {
		unix.Close(fd)
		return nil, wire.MAC{}, 0, err
	}

	mac, err = ifaceHWAddr(name)
	if err != nil {
		unix.Close(fd)
		return nil, wire.MAC{}, 0, err
	}

	if err := armSignal(fd, irq); err != nil {
		unix.Close(fd)
		return nil, wire.MAC{}, 0, err
	}

	return &TAPDriver{fd: fd, mac: mac}, mac, mtu, nil
}

// armSignal enables async-readable notification on fd targeted at this
// process (F_SETOWN), rebinds it from the default SIGIO to irq's
// real-time signal (F_SETSIG), then turns on O_ASYNC delivery
// (F_SETFL).
func armSignal(fd, irq int) error {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETOWN, unix.Getpid()); err != nil {
		return fmt.Errorf("netio: fcntl F_SETOWN: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), fSetSig, int(DeviceSignal(irq))); err != nil {
		return fmt.Errorf("netio: fcntl F_SETSIG: %w", err)
	}
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	if err != nil {
		return fmt.Errorf("netio: fcntl F_GETFL: %w", err)
	}
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags|unix.O_ASYNC); err != nil {
		return fmt.Errorf("netio: fcntl F_SETFL O_ASYNC: %w", err)
	}
	return nil
}

// ifaceMTU reads name's MTU via SIOCGIFMTU over a throwaway datagram
// socket, the standard way to query interface attributes that are not
// exposed on the TAP fd itself.
func ifaceMTU(name string) (int, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return 0, fmt.Errorf("netio: socket: %w", err)
	}
	defer unix.Close(sock)

	var ifr ifreqMTU
	copy(ifr.name[:], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(sock), uintptr(unix.SIOCGIFMTU), uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		return 0, fmt.Errorf("netio: SIOCGIFMTU %s: %w", name, errno)
	}
	return int(ifr.mtu), nil
}

// ifaceHWAddr reads name's hardware address via SIOCGIFHWADDR.
func ifaceHWAddr(name string) (wire.MAC, error) {
	sock, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return wire.MAC{}, fmt.Errorf("netio: socket: %w", err)
	}
	defer unix.Close(sock)

	var ifr ifreqHWAddr
	copy(ifr.name[:], name)
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(sock), uintptr(unix.SIOCGIFHWADDR), uintptr(unsafe.Pointer(&ifr))); errno != 0 {
		return wire.MAC{}, fmt.Errorf("netio: SIOCGIFHWADDR %s: %w", name, errno)
	}

	var mac wire.MAC
	copy(mac[:], ifr.data[:6])
	return mac, nil
}

// Transmit writes a single, already-Ethernet-framed payload to the TAP
// device.
func (d *TAPDriver) Transmit(payload []byte) error {
	n, err := unix.Write(d.fd, payload)
	if err != nil {
		return fmt.Errorf("netio: tap write: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("netio: tap short write: wrote %d of %d bytes", n, len(payload))
	}
	return nil
}

// ISR performs one blocking read of a single frame, decodes its
// Ethernet header, and invokes deliver with the resulting ethertype and
// payload. A frame addressed to neither us nor the broadcast MAC is
// silently dropped.
func (d *TAPDriver) ISR(deliver func(ethertype uint16, payload []byte)) error {
	buf := make([]byte, maxFrame)
	for {
		n, err := unix.Read(d.fd, buf)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("netio: tap read: %w", err)
		}

		frame, ok, err := ethernet.Decode(buf[:n], d.mac)
		if err != nil {
			return fmt.Errorf("netio: tap decode: %w", err)
		}
		if ok {
			deliver(uint16(frame.EtherType), frame.Payload)
		}
		return nil
	}
}

// Close releases the TAP file descriptor.
func (d *TAPDriver) Close() error {
	return unix.Close(d.fd)
}
