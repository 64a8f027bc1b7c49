package kvstore

import (
	"encoding/binary"
	"time"
)

// Keyspace (byte-wise, lexicographically sortable):
//   - m/t/{ts_be8}{seq_be8}              measurement, colony-wide time order
//   - m/s/{subject}\x00{ts_be8}{seq_be8} measurement, per-subject time order
//   - s/{subject}                        subject index
//   - md/{subject}\x00{seq_be8}          metadata field
//   - cfg/{name}                         settings and counters
//
// ts is the measurement's own date+time in seconds with the sign bit
// flipped so that pre-1970 instants still sort first.

var (
	byTimePrefix    = []byte("m/t/")
	bySubjectPrefix = []byte("m/s/")
	subjectPrefix   = []byte("s/")
	metadataPrefix  = []byte("md/")
	settingPrefix   = []byte("cfg/")
	keySeq          = KeySetting("seq")
	keyCurrent      = KeySetting("current_subject")
)

const idSep = byte(0)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

func orderedTS(t time.Time) uint64 {
	return uint64(t.Unix()) ^ (1 << 63)
}

// KeyByTime builds the colony-wide measurement key.
func KeyByTime(ts time.Time, seq uint64) []byte {
	k := make([]byte, 0, len(byTimePrefix)+16)
	k = append(k, byTimePrefix...)
	k = appendBE8(k, orderedTS(ts))
	k = appendBE8(k, seq)
	return k
}

// PrefixBySubject is the common prefix of a subject's measurement keys.
func PrefixBySubject(subject string) []byte {
	k := make([]byte, 0, len(bySubjectPrefix)+len(subject)+1+16)
	k = append(k, bySubjectPrefix...)
	k = append(k, subject...)
	return append(k, idSep)
}

// KeyBySubject builds the per-subject measurement key.
func KeyBySubject(subject string, ts time.Time, seq uint64) []byte {
	k := PrefixBySubject(subject)
	k = appendBE8(k, orderedTS(ts))
	return appendBE8(k, seq)
}

// KeySubject builds the subject index key.
func KeySubject(subject string) []byte {
	return append(append([]byte(nil), subjectPrefix...), subject...)
}

// PrefixMetadata is the common prefix of a subject's metadata keys.
func PrefixMetadata(subject string) []byte {
	k := make([]byte, 0, len(metadataPrefix)+len(subject)+1+8)
	k = append(k, metadataPrefix...)
	k = append(k, subject...)
	return append(k, idSep)
}

// KeyMetadata builds a metadata field key.
func KeyMetadata(subject string, seq uint64) []byte {
	return appendBE8(PrefixMetadata(subject), seq)
}

// KeySetting builds a settings key.
func KeySetting(name string) []byte {
	return append(append([]byte(nil), settingPrefix...), name...)
}

// subjectFromMetadataKey extracts the subject from a metadata key.
func subjectFromMetadataKey(k []byte) (string, bool) {
	if len(k) < len(metadataPrefix)+1+8 {
		return "", false
	}
	body := k[len(metadataPrefix) : len(k)-8]
	if body[len(body)-1] != idSep {
		return "", false
	}
	return string(body[:len(body)-1]), true
}
