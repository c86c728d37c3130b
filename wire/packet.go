package wire

import "github.com/rvtacit/tracedecoder/rv"

// CHeader is the 2-bit compressed-record selector in the first byte.
type CHeader uint8

const (
	CNa CHeader = 0b00
	CTb CHeader = 0b01
	CNt CHeader = 0b10
	CIj CHeader = 0b11
)

// FHeader is the 3-bit packet family, meaningful only when CHeader is CNa.
type FHeader uint8

const (
	FTb   FHeader = 0b001
	FNt   FHeader = 0b010
	FUj   FHeader = 0b011
	FIj   FHeader = 0b100
	FTrap FHeader = 0b101
	FSync FHeader = 0b110
)

// TrapType is the 3-bit trap sub-function, valid when FHeader == FTrap.
type TrapType uint8

const (
	TrapException TrapType = 0b001
	TrapInterrupt TrapType = 0b010
	TrapReturn    TrapType = 0b100
)

// SyncType is the 3-bit sync sub-function, valid when FHeader == FSync.
type SyncType uint8

const (
	SyncNone     SyncType = 0b000
	SyncStart    SyncType = 0b001
	SyncPeriodic SyncType = 0b010
	SyncEnd      SyncType = 0b100
)

// Packet is the decoded form of one wire record. Only the fields relevant
// to FHeader/TrapType/SyncType are populated; callers must not read fields
// the family doesn't define.
type Packet struct {
	Compressed bool
	CHeader    CHeader
	FHeader    FHeader
	TrapType   TrapType
	SyncType   SyncType

	FromPrv   rv.Prv
	TargetPrv rv.Prv

	TargetAddress uint64
	FromAddress   uint64
	TargetCtx     uint64
	Timestamp     uint64

	// CompressedDelta is the 6-bit timestamp delta packed into a
	// compressed record's header byte (CTb/CNt/CIj only).
	CompressedDelta uint8

	// RuntimeCfg is populated on every FSync packet; the decoder uses it
	// only from the very first packet (FSync/Start).
	RuntimeCfg RuntimeCfg
}
