package transport

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"

	"github.com/minio/highwayhash"
)

// machineIDKey is a fixed 32-byte highwayhash key. The value is not a
// secret; it only needs to be identical across every process computing
// a machine id, so identifiers derived on one host and compared on
// another actually match.
var machineIDKey = [32]byte{
	0x6d, 0x65, 0x73, 0x68, 0x72, 0x74, 0x2d, 0x6d,
	0x61, 0x63, 0x68, 0x69, 0x6e, 0x65, 0x2d, 0x69,
	0x64, 0x2d, 0x76, 0x31, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// MachineID derives a stable per-host identifier from the hostname and
// the first non-loopback network interface's hardware address (spec.md
// §6's "machine id"; used by the SocketCache and ServiceDirectory to
// decide when a peer is local).
func MachineID() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("transport: machine id: hostname: %w", err)
	}

	mac := primaryMAC()
	seed := hostname + "|" + mac

	sum, err := highwayhash.New(machineIDKey[:])
	if err != nil {
		return "", fmt.Errorf("transport: machine id: highwayhash init: %w", err)
	}
	sum.Write([]byte(seed))
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
