package types

import (
	"encoding/hex"
	"time"
)

// KeyLen is the size of raw key material in bytes
const KeyLen = 32

// KeyMaterial is one candidate private scalar
type KeyMaterial [KeyLen]byte

// Hex returns the lowercase hex encoding of the key
func (k KeyMaterial) Hex() string {
	return hex.EncodeToString(k[:])
}

// Scheme identifies an address encoding
type Scheme uint8

const (
	SchemeLegacy        Scheme = iota // P2PKH
	SchemeWrappedSegwit               // P2SH-P2WPKH
	SchemeNativeSegwit                // P2WPKH
)

// String returns the short name of the scheme
func (s Scheme) String() string {
	switch s {
	case SchemeLegacy:
		return "p2pkh"
	case SchemeWrappedSegwit:
		return "p2sh-p2wpkh"
	case SchemeNativeSegwit:
		return "p2wpkh"
	default:
		return "unknown"
	}
}

// DerivedAddress is one address computed from a key under one scheme
type DerivedAddress struct {
	Scheme  Scheme
	Address string
}

// MatchRecord is written to the match log for every positive lookup
type MatchRecord struct {
	Key     KeyMaterial
	WIF     string
	Address string
	Scheme  Scheme
}

// Stats summarizes a finished scan
type Stats struct {
	Rounds    int64
	Processed uint64
	Matches   int64
	Duration  time.Duration
}

// Rate returns keys per second, or 0 for an empty duration
func (s Stats) Rate() float64 {
	if s.Duration.Seconds() <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Duration.Seconds()
}
