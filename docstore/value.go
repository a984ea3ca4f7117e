package docstore

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

type valueFlags uint64

const (
	vfVerBit0 = valueFlags(1 << iota)
	vfVerBit1
	vfVerBit2
	vfVerBit3

	vfVerMask       = (vfVerBit0 | vfVerBit1 | vfVerBit2 | vfVerBit3)
	vfVer1          = vfVerBit0
	vfSupportedMask = vfVer1
	vfDefault       = vfVer1

	minValueSize = 3 + 8
)

func (vf valueFlags) ver() valueFlags {
	return vf & vfVerMask
}

type value struct {
	Flags    valueFlags
	ModCount uint64
	Data     []byte
}

func (vle value) encode() []byte {
	bb := bytesBuilder{make([]byte, 0, len(vle.Data)+3*binary.MaxVarintLen64+8)}
	bb.AppendUvarint(uint64(vle.Flags))
	bb.AppendUvarint(vle.ModCount)
	bb.AppendUvarint(uint64(len(vle.Data)))
	bb.AppendFixedUint64(xxhash.Sum64(vle.Data))
	bb.Write(vle.Data)
	return bb.Buf
}

func (vle *value) decode(data []byte) error {
	orig := data
	if len(data) < minValueSize {
		return dataErrf(orig, 0, nil, "invalid value: at least %d bytes required", minValueSize)
	}

	v, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad flags")
	}
	if (v & ^uint64(vfSupportedMask)) != 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: unsupported flags %x", v)
	}
	vle.Flags, data = valueFlags(v), data[n:]

	v, n = binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad mod count")
	}
	vle.ModCount, data = v, data[n:]

	dataSize, n := binary.Uvarint(data)
	if n <= 0 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: bad data size")
	}
	data = data[n:]

	if len(data) < 8 {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: missing checksum")
	}
	sum, data := binary.BigEndian.Uint64(data), data[8:]

	if uint64(len(data)) != dataSize {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: got %d bytes of data, expected %d bytes", len(data), dataSize)
	}
	if actual := xxhash.Sum64(data); actual != sum {
		return dataErrf(orig, len(orig)-len(data), nil, "invalid value: checksum %016x, expected %016x", actual, sum)
	}
	vle.Data = data
	return nil
}
