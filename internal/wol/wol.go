// Package wol builds and broadcasts Wake-on-LAN magic packets.
package wol

import (
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/bootwake/bootwaked/internal/boot"
)

// BroadcastAddr is the limited broadcast address WOL packets are sent to.
const BroadcastAddr = "255.255.255.255:9"

// MagicPacket builds the 102-byte magic packet for mac: six 0xFF bytes
// followed by the MAC repeated 16 times.
func MagicPacket(mac boot.MacAddress) []byte {
	buf := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		buf = append(buf, 0xFF)
	}
	for i := 0; i < 16; i++ {
		buf = append(buf, mac[:]...)
	}
	return buf
}

// Emit sends one magic packet for mac as a UDP broadcast datagram. Failure
// is non-fatal by design (see internal/session's WolReconnect, which drives
// Emit in a loop until the agent reconnects), but is still returned so
// callers can log it.
func Emit(mac boot.MacAddress) error {
	raddr, err := net.ResolveUDPAddr("udp4", BroadcastAddr)
	if err != nil {
		return fmt.Errorf("wol: resolve broadcast addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("wol: open udp socket: %w", err)
	}
	defer conn.Close()

	if err := setBroadcast(conn); err != nil {
		return fmt.Errorf("wol: enable broadcast: %w", err)
	}

	if _, err := conn.WriteToUDP(MagicPacket(mac), raddr); err != nil {
		return fmt.Errorf("wol: send magic packet: %w", err)
	}
	return nil
}

// setBroadcast sets SO_BROADCAST on conn's underlying fd. The stdlib net
// package has no exported way to do this, so we drop to the raw syscall fd
// via SyscallConn, the same escape hatch the teacher reaches for when
// terminal syscalls aren't covered by a higher-level package.
func setBroadcast(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}
