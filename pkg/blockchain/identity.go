package blockchain

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// Well-known SS58 address formats.
const (
	GenericSubstrateFormat uint16 = 42
	GoroFormat             uint16 = 14697
)

const (
	ss58ChecksumLen = 2
	maxSS58Format   = 16383
)

var ss58Prefix = []byte("SS58PRE")

// ErrIdentity is returned for account addresses that fail to decode or verify.
var ErrIdentity = errors.New("identity error")

// AccountID is a raw 32-byte account public key.
type AccountID [32]byte

// Hex returns the 0x-prefixed hex form of the key.
func (a AccountID) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// AddressFormat selects which SS58 network versions DecodeAddress accepts.
type AddressFormat struct {
	Prefix uint16
	// AcceptGeneric also admits addresses in the generic Substrate format.
	AcceptGeneric bool
}

// Identity holds the fixed caller and contract accounts used for every call.
type Identity struct {
	Caller   AccountID
	Contract AccountID
}

// NewIdentity decodes both addresses against format.
func NewIdentity(caller, contract string, format AddressFormat) (Identity, error) {
	c, err := DecodeAddress(caller, format)
	if err != nil {
		return Identity{}, fmt.Errorf("caller: %w", err)
	}
	d, err := DecodeAddress(contract, format)
	if err != nil {
		return Identity{}, fmt.Errorf("contract: %w", err)
	}
	return Identity{Caller: c, Contract: d}, nil
}

// DecodeAddress decodes an SS58 address, verifying its checksum and network format.
func DecodeAddress(addr string, format AddressFormat) (AccountID, error) {
	var id AccountID

	raw, err := base58.Decode(addr)
	if err != nil {
		return id, fmt.Errorf("%w: %q is not base58: %w", ErrIdentity, addr, err)
	}
	if len(raw) == 0 {
		return id, fmt.Errorf("%w: empty address", ErrIdentity)
	}

	var prefix uint16
	prefixLen := 1
	switch {
	case raw[0] < 64:
		prefix = uint16(raw[0])
	case raw[0] < 128:
		if len(raw) < 2 {
			return id, fmt.Errorf("%w: truncated address %q", ErrIdentity, addr)
		}
		lower := (raw[0] << 2) | (raw[1] >> 6)
		upper := raw[1] & 0x3f
		prefix = uint16(lower) | uint16(upper)<<8
		prefixLen = 2
	default:
		return id, fmt.Errorf("%w: %q has reserved prefix byte %#x", ErrIdentity, addr, raw[0])
	}

	if want := prefixLen + len(id) + ss58ChecksumLen; len(raw) != want {
		return id, fmt.Errorf("%w: %q decodes to %d bytes, want %d", ErrIdentity, addr, len(raw), want)
	}

	body := raw[:len(raw)-ss58ChecksumLen]
	if !bytes.Equal(ss58Checksum(body), raw[len(body):]) {
		return id, fmt.Errorf("%w: bad checksum in %q", ErrIdentity, addr)
	}

	if prefix != format.Prefix && !(format.AcceptGeneric && prefix == GenericSubstrateFormat) {
		return id, fmt.Errorf("%w: %q uses format %d, want %d", ErrIdentity, addr, prefix, format.Prefix)
	}

	copy(id[:], body[prefixLen:])
	return id, nil
}

// EncodeAddress renders id as an SS58 address in the given network format.
func EncodeAddress(id AccountID, format uint16) (string, error) {
	if format > maxSS58Format || format == 46 || format == 47 {
		return "", fmt.Errorf("%w: format %d cannot be encoded", ErrIdentity, format)
	}

	var buf []byte
	if format < 64 {
		buf = append(buf, byte(format))
	} else {
		buf = append(buf,
			byte((format&0xfc)>>2)|0x40,
			byte(format>>8)|byte((format&3)<<6),
		)
	}
	buf = append(buf, id[:]...)
	buf = append(buf, ss58Checksum(buf)...)
	return base58.Encode(buf), nil
}

func ss58Checksum(body []byte) []byte {
	h, _ := blake2b.New512(nil)
	h.Write(ss58Prefix)
	h.Write(body)
	return h.Sum(nil)[:ss58ChecksumLen]
}
