package storage

import "encoding/binary"

func putUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }
func putUint64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }
