package kvstore

import (
	"encoding/binary"
	"errors"
	"hash/crc32"

	"github.com/vmihailenco/msgpack/v5"
)

// Value encoding: msgpack(body) | crc32c(body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

var errCorrupt = errors.New("kvstore: corrupt record")

func encodeValue(v any) ([]byte, error) {
	body, err := msgpack.Marshal(v)
	if err != nil {
		return nil, err
	}
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc32.Checksum(body, castagnoli))
	return append(body, crcb[:]...), nil
}

func decodeValue(b []byte, v any) error {
	if len(b) < 1+4 {
		return errCorrupt
	}
	body := b[:len(b)-4]
	if binary.BigEndian.Uint32(b[len(b)-4:]) != crc32.Checksum(body, castagnoli) {
		return errCorrupt
	}
	return msgpack.Unmarshal(body, v)
}
