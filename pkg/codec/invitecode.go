package codec

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

// zbase32Alphabet is the human-oriented base-32 alphabet from
// z-base-32. Bit grouping matches RFC 4648, only the symbols differ.
const zbase32Alphabet = "ybndrfg8ejkmcpqxot1uwisza345h769"

var zbase32 = base32.NewEncoding(zbase32Alphabet).WithPadding(base32.NoPadding)

var (
	// ErrEmptyCode is returned when decoding an empty invite code.
	ErrEmptyCode = errors.New("codec: empty invite code")

	// ErrNonCanonicalCode is returned for a code that decodes but is not
	// what EncodeInvite produces for the same payload.
	ErrNonCanonicalCode = errors.New("codec: non-canonical invite code")
)

// EncodeInvite returns the shareable text form of a raw pairing payload.
func EncodeInvite(payload []byte) string {
	return zbase32.EncodeToString(payload)
}

// DecodeInvite reverses EncodeInvite. Surrounding whitespace is ignored;
// any other symbol outside the alphabet is an error, as is a code whose
// unused trailing bits are set.
func DecodeInvite(code string) ([]byte, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	payload, err := zbase32.DecodeString(code)
	if err != nil {
		return nil, fmt.Errorf("codec: decode invite code: %w", err)
	}
	if EncodeInvite(payload) != code {
		return nil, ErrNonCanonicalCode
	}
	return payload, nil
}
