package common

import (
	"encoding/binary"
)

// Components run by the bloombridge node.
const (
	// BRIDGE name to identify the bridge ledger component
	BRIDGE = "bridge"
	// RELAYER name to identify the relayer component
	RELAYER = "relayer"
)

// Uint64ToBytes converts a uint64 to a byte slice in big-endian order
func Uint64ToBytes(num uint64) []byte {
	const uint64ByteSize = 8

	bytes := make([]byte, uint64ByteSize)
	binary.BigEndian.PutUint64(bytes, num)

	return bytes
}

// BytesToUint64 converts a byte slice to a uint64
func BytesToUint64(bytes []byte) uint64 {
	return binary.BigEndian.Uint64(bytes)
}

// Uint32ToBytes converts a uint32 to a byte slice in big-endian order
func Uint32ToBytes(num uint32) []byte {
	const uint32ByteSize = 4

	key := make([]byte, uint32ByteSize)
	binary.BigEndian.PutUint32(key, num)

	return key
}

// BytesToUint32 converts a byte slice to a uint32
func BytesToUint32(bytes []byte) uint32 {
	return binary.BigEndian.Uint32(bytes)
}

// Int64ToBytes converts an int64 to a byte slice in big-endian order.
// Negative timestamps never travel through the protocol, the cast is safe.
func Int64ToBytes(num int64) []byte {
	return Uint64ToBytes(uint64(num))
}
