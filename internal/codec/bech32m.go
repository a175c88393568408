package codec

import (
	"fmt"
	"strings"

	"github.com/workrail/core/internal/workrailerr"
)

// Bech32m implements BIP-350 bech32m encoding of an arbitrary byte payload
// under a human-readable part (hrp). No library in the example corpus
// implements bech32/bech32m (grepped for "bech32" across every example repo
// with no hits), so this is a from-scratch, spec-faithful implementation —
// the one primitive in this package not grounded on a corpus dependency; see
// DESIGN.md for the justification.
const bech32Charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

const bech32mConst = 0x2bc830a3

var bech32CharsetIndex = func() map[byte]int {
	m := make(map[byte]int, len(bech32Charset))
	for i := 0; i < len(bech32Charset); i++ {
		m[bech32Charset[i]] = i
	}
	return m
}()

func bech32Polymod(values []int) int {
	gen := [5]int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		b := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (b>>i)&1 == 1 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func bech32HRPExpand(hrp string) []int {
	out := make([]int, 0, len(hrp)*2+1)
	for i := 0; i < len(hrp); i++ {
		out = append(out, int(hrp[i])>>5)
	}
	out = append(out, 0)
	for i := 0; i < len(hrp); i++ {
		out = append(out, int(hrp[i])&31)
	}
	return out
}

func bech32mCreateChecksum(hrp string, data []int) []int {
	values := append(bech32HRPExpand(hrp), data...)
	values = append(values, 0, 0, 0, 0, 0, 0)
	mod := bech32Polymod(values) ^ bech32mConst
	checksum := make([]int, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = (mod >> (5 * (5 - i))) & 31
	}
	return checksum
}

func bech32mVerifyChecksum(hrp string, data []int) bool {
	values := append(bech32HRPExpand(hrp), data...)
	return bech32Polymod(values) == bech32mConst
}

// convertBits regroups a slice of integers each holding `fromBits` bits into
// a slice holding `toBits` bits, padding the final group when pad is true.
func convertBits(data []byte, fromBits, toBits uint, pad bool) ([]int, error) {
	acc := 0
	bits := uint(0)
	out := make([]int, 0, len(data)*int(fromBits)/int(toBits)+1)
	maxv := (1 << toBits) - 1
	maxAcc := (1 << (fromBits + toBits - 1)) - 1
	for _, b := range data {
		value := int(b)
		if value>>fromBits != 0 {
			return nil, fmt.Errorf("codec: bech32 input value out of range")
		}
		acc = ((acc << fromBits) | value) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, (acc>>bits)&maxv)
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, (acc<<(toBits-bits))&maxv)
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, fmt.Errorf("codec: bech32 invalid padding in conversion")
	}
	return out, nil
}

func convertBitsFromInts(data []int, fromBits, toBits uint, pad bool) ([]byte, error) {
	acc := 0
	bits := uint(0)
	out := make([]byte, 0, len(data)*int(fromBits)/int(toBits)+1)
	maxv := (1 << toBits) - 1
	maxAcc := (1 << (fromBits + toBits - 1)) - 1
	for _, value := range data {
		if value < 0 || value>>fromBits != 0 {
			return nil, fmt.Errorf("codec: bech32 input value out of range")
		}
		acc = ((acc << fromBits) | value) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			out = append(out, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, fmt.Errorf("codec: bech32 invalid padding in conversion")
	}
	return out, nil
}

// EncodeBech32m encodes payload (arbitrary bytes) under hrp, producing
// "<hrp>1<data><checksum>".
func EncodeBech32m(hrp string, payload []byte) (string, error) {
	if hrp == "" {
		return "", fmt.Errorf("codec: bech32 hrp must not be empty")
	}
	values, err := convertBits(payload, 8, 5, true)
	if err != nil {
		return "", err
	}
	checksum := bech32mCreateChecksum(hrp, values)
	combined := append(values, checksum...)
	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		sb.WriteByte(bech32Charset[v])
	}
	return sb.String(), nil
}

// DecodeBech32m decodes s, verifying the bech32m checksum and that the hrp
// matches wantHRP exactly. Any single-character mutation of a validly
// encoded string — including within the checksum — fails this check, per
// spec.md §4.1.
func DecodeBech32m(s string, wantHRP string) ([]byte, error) {
	if strings.ToLower(s) != s && strings.ToUpper(s) != s {
		return nil, workrailerr.New(workrailerr.CodeBech32mChecksumFail, "bech32 mixed case")
	}
	s = strings.ToLower(s)
	sep := strings.LastIndexByte(s, '1')
	if sep < 1 || sep+7 > len(s) {
		return nil, workrailerr.New(workrailerr.CodeBech32mChecksumFail, "bech32 malformed separator")
	}
	hrp := s[:sep]
	if hrp != wantHRP {
		return nil, workrailerr.Newf(workrailerr.CodeBech32mInvalidHRP, "bech32 hrp mismatch: got %q want %q", hrp, wantHRP)
	}
	dataPart := s[sep+1:]
	values := make([]int, len(dataPart))
	for i := 0; i < len(dataPart); i++ {
		idx, ok := bech32CharsetIndex[dataPart[i]]
		if !ok {
			return nil, workrailerr.Newf(workrailerr.CodeBech32mChecksumFail, "bech32 invalid character %q", dataPart[i])
		}
		values[i] = idx
	}
	if !bech32mVerifyChecksum(hrp, values) {
		return nil, workrailerr.New(workrailerr.CodeBech32mChecksumFail, "bech32m checksum verification failed")
	}
	payloadValues := values[:len(values)-6]
	payload, err := convertBitsFromInts(payloadValues, 5, 8, false)
	if err != nil {
		return nil, workrailerr.Newf(workrailerr.CodeBech32mChecksumFail, "bech32m payload conversion failed: %v", err)
	}
	return payload, nil
}
