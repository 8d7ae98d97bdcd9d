package wire

import "encoding/binary"

// MarshalError is a stable string-valued error type for codec
// failures, mirroring the sentinel style used by the rest of this
// package's callers for errors.Is comparisons.
type MarshalError string

func (e MarshalError) Error() string { return string(e) }

const (
	// ErrInsufficientData is returned when a buffer is too short to
	// hold a full record.
	ErrInsufficientData MarshalError = "wire: insufficient data for decode"
	// ErrDataTooLong is returned when a payload exceeds its inline
	// capacity.
	ErrDataTooLong MarshalError = "wire: payload exceeds inline capacity"
)

// EncodeEvent writes ev's 296-byte little-endian wire form into buf,
// which must be at least len(buf) >= unsafe.Sizeof(Event{}).
func EncodeEvent(buf []byte, ev *Event) error {
	if len(buf) < 296 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint64(buf[0:8], ev.ID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(ev.Type))
	buf[12] = ev.Priority
	buf[13] = ev.Flags
	binary.LittleEndian.PutUint16(buf[14:16], ev._pad0)
	binary.LittleEndian.PutUint64(buf[16:24], ev.Submitter)
	binary.LittleEndian.PutUint64(buf[24:32], ev.Timestamp)
	binary.LittleEndian.PutUint32(buf[32:36], ev.DataLen)
	binary.LittleEndian.PutUint32(buf[36:40], ev._pad1)
	copy(buf[40:296], ev.Data[:])
	return nil
}

// DecodeEvent reads a 296-byte little-endian wire record from data
// into ev. DataLen is validated against the inline capacity so a
// corrupt record can never claim more payload than it carries.
func DecodeEvent(data []byte, ev *Event) error {
	if len(data) < 296 {
		return ErrInsufficientData
	}
	ev.ID = binary.LittleEndian.Uint64(data[0:8])
	ev.Type = EventType(binary.LittleEndian.Uint32(data[8:12]))
	ev.Priority = data[12]
	ev.Flags = data[13]
	ev._pad0 = binary.LittleEndian.Uint16(data[14:16])
	ev.Submitter = binary.LittleEndian.Uint64(data[16:24])
	ev.Timestamp = binary.LittleEndian.Uint64(data[24:32])
	ev.DataLen = binary.LittleEndian.Uint32(data[32:36])
	ev._pad1 = binary.LittleEndian.Uint32(data[36:40])
	if ev.DataLen > EventDataLen {
		return ErrInvalidPayload
	}
	copy(ev.Data[:], data[40:296])
	return nil
}

// EncodeResponse writes r's 288-byte little-endian wire form into buf.
func EncodeResponse(buf []byte, r *Response) error {
	if len(buf) < 288 {
		return ErrInsufficientData
	}
	binary.LittleEndian.PutUint64(buf[0:8], r.EventID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(r.Status))
	binary.LittleEndian.PutUint32(buf[12:16], r.ResultCode)
	binary.LittleEndian.PutUint64(buf[16:24], r.CompletedAt)
	binary.LittleEndian.PutUint32(buf[24:28], r.ResultLen)
	binary.LittleEndian.PutUint32(buf[28:32], r._pad0)
	copy(buf[32:288], r.Result[:])
	return nil
}

// DecodeResponse reads a 288-byte little-endian wire record from data
// into r.
func DecodeResponse(data []byte, r *Response) error {
	if len(data) < 288 {
		return ErrInsufficientData
	}
	r.EventID = binary.LittleEndian.Uint64(data[0:8])
	r.Status = Status(binary.LittleEndian.Uint32(data[8:12]))
	r.ResultCode = binary.LittleEndian.Uint32(data[12:16])
	r.CompletedAt = binary.LittleEndian.Uint64(data[16:24])
	r.ResultLen = binary.LittleEndian.Uint32(data[24:28])
	r._pad0 = binary.LittleEndian.Uint32(data[28:32])
	if r.ResultLen > ResultDataLen {
		return ErrInvalidPayload
	}
	copy(r.Result[:], data[32:288])
	return nil
}

// ErrInvalidPayload is returned by the per-event-type payload decoders
// below when a payload is short, malformed, or claims a length larger
// than its inline capacity.
const ErrInvalidPayload MarshalError = "wire: invalid event payload"

// SetPayload copies src into ev's inline data area and sets DataLen,
// returning ErrDataTooLong if src overflows the inline capacity.
func (ev *Event) SetPayload(src []byte) error {
	if len(src) > EventDataLen {
		return ErrDataTooLong
	}
	ev.DataLen = uint32(len(src))
	copy(ev.Data[:], src)
	return nil
}

// Payload returns the event's inline payload, bounded by DataLen.
func (ev *Event) Payload() []byte {
	n := ev.DataLen
	if n > EventDataLen {
		n = EventDataLen
	}
	return ev.Data[:n]
}

// SetResult copies src into r's inline result area and sets ResultLen,
// truncating (never erroring) to the inline capacity: the wire format
// has no out-of-band attachment channel, so truncation here is the
// documented behavior rather than a caller-visible failure.
func (r *Response) SetResult(src []byte) {
	n := len(src)
	if n > ResultDataLen {
		n = ResultDataLen
	}
	r.ResultLen = uint32(n)
	copy(r.Result[:], src[:n])
}

// ResultBytes returns the response's inline result, bounded by
// ResultLen.
func (r *Response) ResultBytes() []byte {
	n := r.ResultLen
	if n > ResultDataLen {
		n = ResultDataLen
	}
	return r.Result[:n]
}

// --- Payload schemas ---------------------------------------------------

// MemoryAllocPayload is the EventMemoryAlloc payload: a requested
// allocation size in bytes.
type MemoryAllocPayload struct {
	Size uint64
}

// DecodeMemoryAlloc decodes a MEMORY_ALLOC payload.
func DecodeMemoryAlloc(data []byte) (MemoryAllocPayload, error) {
	if len(data) < 8 {
		return MemoryAllocPayload{}, ErrInvalidPayload
	}
	return MemoryAllocPayload{Size: binary.LittleEndian.Uint64(data[0:8])}, nil
}

// Encode writes p's wire form into buf (at least 8 bytes).
func (p MemoryAllocPayload) Encode(buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.Size)
	return 8
}

// MemoryFreePayload is the EventMemoryFree payload.
type MemoryFreePayload struct {
	Addr uint64
	Size uint64
}

// DecodeMemoryFree decodes a MEMORY_FREE payload.
func DecodeMemoryFree(data []byte) (MemoryFreePayload, error) {
	if len(data) < 16 {
		return MemoryFreePayload{}, ErrInvalidPayload
	}
	return MemoryFreePayload{
		Addr: binary.LittleEndian.Uint64(data[0:8]),
		Size: binary.LittleEndian.Uint64(data[8:16]),
	}, nil
}

func (p MemoryFreePayload) Encode(buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.Addr)
	binary.LittleEndian.PutUint64(buf[8:16], p.Size)
	return 16
}

// FileOpenPayload is the EventFileOpen payload: a file inode id.
type FileOpenPayload struct {
	InodeID uint64
}

func DecodeFileOpen(data []byte) (FileOpenPayload, error) {
	if len(data) < 8 {
		return FileOpenPayload{}, ErrInvalidPayload
	}
	return FileOpenPayload{InodeID: binary.LittleEndian.Uint64(data[0:8])}, nil
}

func (p FileOpenPayload) Encode(buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.InodeID)
	return 8
}

// FileHandlePayload addresses an open file by descriptor; used by
// EventFileClose and EventFileStat.
type FileHandlePayload struct {
	FD uint64
}

func DecodeFileHandle(data []byte) (FileHandlePayload, error) {
	if len(data) < 8 {
		return FileHandlePayload{}, ErrInvalidPayload
	}
	return FileHandlePayload{FD: binary.LittleEndian.Uint64(data[0:8])}, nil
}

func (p FileHandlePayload) Encode(buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.FD)
	return 8
}

// FileIOPayload is the EventFileRead/EventFileWrite payload: fd plus a
// size (read) or fd plus the bytes to write (write). There is no
// offset field — reads and writes advance the open file's sequential
// cursor, POSIX-style, rather than addressing an explicit position.
// For reads, Data is unused and Length is the requested read size; for
// writes, Data[:Length] is the data to write (bounded by the event's
// own inline payload capacity once the header is subtracted).
type FileIOPayload struct {
	FD     uint64
	Length uint32
	Data   []byte
}

const fileIOHeaderLen = 12

func DecodeFileIO(data []byte) (FileIOPayload, error) {
	if len(data) < fileIOHeaderLen {
		return FileIOPayload{}, ErrInvalidPayload
	}
	p := FileIOPayload{
		FD:     binary.LittleEndian.Uint64(data[0:8]),
		Length: binary.LittleEndian.Uint32(data[8:12]),
	}
	rest := data[fileIOHeaderLen:]
	n := int(p.Length)
	if n > len(rest) {
		n = len(rest)
	}
	p.Data = rest[:n]
	return p, nil
}

func (p FileIOPayload) Encode(buf []byte) (int, error) {
	need := fileIOHeaderLen + len(p.Data)
	if need > len(buf) {
		return 0, ErrDataTooLong
	}
	binary.LittleEndian.PutUint64(buf[0:8], p.FD)
	length := uint32(len(p.Data))
	if length == 0 {
		length = p.Length
	}
	binary.LittleEndian.PutUint32(buf[8:12], length)
	copy(buf[fileIOHeaderLen:need], p.Data)
	return need, nil
}

// TagOpPayload is shared by EventFileCreateTagged (InodeID unused),
// EventTagAdd, EventTagRemove, and EventTagGet.
type TagOpPayload struct {
	InodeID uint64
	Tags    []Tag
}

const tagOpHeaderLen = 12 // InodeID(8) + TagCount(4)

func DecodeTagOp(data []byte) (TagOpPayload, error) {
	if len(data) < tagOpHeaderLen {
		return TagOpPayload{}, ErrInvalidPayload
	}
	p := TagOpPayload{InodeID: binary.LittleEndian.Uint64(data[0:8])}
	count := binary.LittleEndian.Uint32(data[8:12])
	rest := data[tagOpHeaderLen:]
	if uint64(count)*96 > uint64(len(rest)) {
		return TagOpPayload{}, ErrInvalidPayload
	}
	p.Tags = make([]Tag, count)
	for i := uint32(0); i < count; i++ {
		off := i * 96
		copy(p.Tags[i].Key[:], rest[off:off+32])
		copy(p.Tags[i].Value[:], rest[off+32:off+96])
	}
	return p, nil
}

func (p TagOpPayload) Encode(buf []byte) (int, error) {
	need := tagOpHeaderLen + len(p.Tags)*96
	if need > len(buf) {
		return 0, ErrDataTooLong
	}
	binary.LittleEndian.PutUint64(buf[0:8], p.InodeID)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(p.Tags)))
	off := tagOpHeaderLen
	for _, t := range p.Tags {
		copy(buf[off:off+32], t.Key[:])
		copy(buf[off+32:off+96], t.Value[:])
		off += 96
	}
	return need, nil
}

// QueryOp selects how the Tags in a FileQueryPayload combine.
type QueryOp uint32

const (
	QueryAnd QueryOp = iota
	QueryOr
	QueryNot
)

// FileQueryPayload is the EventFileQuery payload.
type FileQueryPayload struct {
	Op      QueryOp
	MaxRes  uint32
	Tags    []Tag
}

const fileQueryHeaderLen = 12 // Op(4) + MaxRes(4) + TagCount(4)

func DecodeFileQuery(data []byte) (FileQueryPayload, error) {
	if len(data) < fileQueryHeaderLen {
		return FileQueryPayload{}, ErrInvalidPayload
	}
	p := FileQueryPayload{
		Op:     QueryOp(binary.LittleEndian.Uint32(data[0:4])),
		MaxRes: binary.LittleEndian.Uint32(data[4:8]),
	}
	count := binary.LittleEndian.Uint32(data[8:12])
	rest := data[fileQueryHeaderLen:]
	if uint64(count)*96 > uint64(len(rest)) {
		return FileQueryPayload{}, ErrInvalidPayload
	}
	p.Tags = make([]Tag, count)
	for i := uint32(0); i < count; i++ {
		off := i * 96
		copy(p.Tags[i].Key[:], rest[off:off+32])
		copy(p.Tags[i].Value[:], rest[off+32:off+96])
	}
	return p, nil
}

func (p FileQueryPayload) Encode(buf []byte) (int, error) {
	need := fileQueryHeaderLen + len(p.Tags)*96
	if need > len(buf) {
		return 0, ErrDataTooLong
	}
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Op))
	binary.LittleEndian.PutUint32(buf[4:8], p.MaxRes)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(p.Tags)))
	off := fileQueryHeaderLen
	for _, t := range p.Tags {
		copy(buf[off:off+32], t.Key[:])
		copy(buf[off+32:off+96], t.Value[:])
		off += 96
	}
	return need, nil
}

// ProcCreatePayload is the EventProcCreate payload: a process name.
type ProcCreatePayload struct {
	Name string
}

func DecodeProcCreate(data []byte) (ProcCreatePayload, error) {
	return ProcCreatePayload{Name: string(trimNUL(data))}, nil
}

func (p ProcCreatePayload) Encode(buf []byte) (int, error) {
	if len(p.Name) > len(buf) {
		return 0, ErrDataTooLong
	}
	n := copy(buf, p.Name)
	return n, nil
}

// ProcPIDPayload addresses a process by pid; used by
// EventProcExit/Kill/Wait/Signal.
type ProcPIDPayload struct {
	PID    uint64
	Signal uint32
}

func DecodeProcPID(data []byte) (ProcPIDPayload, error) {
	if len(data) < 8 {
		return ProcPIDPayload{}, ErrInvalidPayload
	}
	p := ProcPIDPayload{PID: binary.LittleEndian.Uint64(data[0:8])}
	if len(data) >= 12 {
		p.Signal = binary.LittleEndian.Uint32(data[8:12])
	}
	return p, nil
}

func (p ProcPIDPayload) Encode(buf []byte) int {
	binary.LittleEndian.PutUint64(buf[0:8], p.PID)
	binary.LittleEndian.PutUint32(buf[8:12], p.Signal)
	return 12
}

// IPCPayload is shared by the IPC_* stub event types.
type IPCPayload struct {
	ChannelID uint64
	Data      []byte
}

const ipcHeaderLen = 8

func DecodeIPC(data []byte) (IPCPayload, error) {
	if len(data) < ipcHeaderLen {
		return IPCPayload{}, ErrInvalidPayload
	}
	return IPCPayload{
		ChannelID: binary.LittleEndian.Uint64(data[0:8]),
		Data:      data[ipcHeaderLen:],
	}, nil
}

func (p IPCPayload) Encode(buf []byte) (int, error) {
	need := ipcHeaderLen + len(p.Data)
	if need > len(buf) {
		return 0, ErrDataTooLong
	}
	binary.LittleEndian.PutUint64(buf[0:8], p.ChannelID)
	copy(buf[ipcHeaderLen:need], p.Data)
	return need, nil
}
