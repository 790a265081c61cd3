// Package chain implements the Chain Ingester (C6): a long-lived
// subscription per (endpoint, contract_address), SCALE-style payload
// decoding against a project's contract schema, and a bounded push onto
// the Trigger Router's intake (spec.md §4.6).
package chain

import (
	"encoding/hex"
	"fmt"
	"unicode/utf8"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/registry"
	"github.com/triggr/node/internal/value"
)

// scaleReader is a cursor over a SCALE-encoded byte buffer.
type scaleReader struct {
	buf []byte
	pos int
}

func (r *scaleReader) readN(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, fmt.Errorf("scale: need %d bytes, %d remain", n, len(r.buf)-r.pos)
	}
	out := r.buf[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *scaleReader) readByte() (byte, error) {
	b, err := r.readN(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// readCompactLen decodes a SCALE compact integer used as a length prefix
// (the two-bit mode tag in the first byte: 0=single-byte, 1=two-byte LE,
// 2=four-byte LE, 3=big-integer with a length-of-length byte).
func (r *scaleReader) readCompactLen() (int, error) {
	b0, err := r.readByte()
	if err != nil {
		return 0, err
	}
	switch b0 & 0b11 {
	case 0:
		return int(b0 >> 2), nil
	case 1:
		rest, err := r.readN(1)
		if err != nil {
			return 0, err
		}
		v := uint16(b0) | uint16(rest[0])<<8
		return int(v >> 2), nil
	case 2:
		rest, err := r.readN(3)
		if err != nil {
			return 0, err
		}
		v := uint32(b0) | uint32(rest[0])<<8 | uint32(rest[1])<<16 | uint32(rest[2])<<24
		return int(v >> 2), nil
	default:
		numBytes := int(b0>>2) + 4
		if numBytes > 8 {
			return 0, fmt.Errorf("scale: compact length too wide (%d bytes)", numBytes)
		}
		rest, err := r.readN(numBytes)
		if err != nil {
			return 0, err
		}
		var v uint64
		for i := numBytes - 1; i >= 0; i-- {
			v = v<<8 | uint64(rest[i])
		}
		return int(v), nil
	}
}

func (r *scaleReader) readUint(width int) (uint64, error) {
	b, err := r.readN(width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v, nil
}

// decimalFromLE renders a little-endian unsigned integer of any width as
// base-10 digits. Accumulation is repeated base-256 multiply-add in plain
// decimal digit arithmetic, which keeps math/big out of the dependency
// graph for these two call sites.
func decimalFromLE(b []byte) string {
	digits := []int{0}
	mulAdd := func(byteVal byte) {
		carry := int(byteVal)
		for i := 0; i < len(digits); i++ {
			v := digits[i]*256 + carry
			digits[i] = v % 10
			carry = v / 10
		}
		for carry > 0 {
			digits = append(digits, carry%10)
			carry /= 10
		}
	}
	for i := len(b) - 1; i >= 0; i-- {
		mulAdd(b[i])
	}
	out := make([]byte, len(digits))
	for i, d := range digits {
		out[len(digits)-1-i] = byte('0' + d)
	}
	return string(out)
}

// readWideUintDecimal reads a little-endian unsigned integer wider than
// 64 bits and renders it as a base-10 string (u128 support; spec.md §4.5
// carries wide integers as Decimal so precision survives JSON
// round-trips).
func (r *scaleReader) readWideUintDecimal(width int) (string, error) {
	b, err := r.readN(width)
	if err != nil {
		return "", err
	}
	return decimalFromLE(b), nil
}

// readWideIntDecimal reads a two's-complement little-endian signed
// integer wider than 64 bits (i128 support). Negative values are negated
// byte-wise and rendered with a leading minus sign.
func (r *scaleReader) readWideIntDecimal(width int) (string, error) {
	b, err := r.readN(width)
	if err != nil {
		return "", err
	}
	if b[width-1]&0x80 == 0 {
		return decimalFromLE(b), nil
	}
	neg := make([]byte, width)
	carry := 1
	for i, v := range b {
		sum := int(^v) + carry
		neg[i] = byte(sum)
		carry = sum >> 8
	}
	return "-" + decimalFromLE(neg), nil
}

// DecodeEvent decodes a raw SCALE-encoded payload into a field map per
// decl's ordered field declarations (spec.md §4.6 step 3).
func DecodeEvent(raw []byte, decl registry.EventDecl) (map[string]value.Value, error) {
	r := &scaleReader{buf: raw}
	out := make(map[string]value.Value, len(decl.Fields))
	for _, f := range decl.Fields {
		v, err := decodeField(r, f)
		if err != nil {
			return nil, apierr.Wrap(apierr.CodeChain, fmt.Sprintf("decode field %q of event %q", f.Name, decl.Name), err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodeField(r *scaleReader, f registry.FieldDecl) (value.Value, error) {
	switch f.Type {
	case registry.TypeUint8:
		v, err := r.readUint(1)
		return value.Int(int64(v)), err
	case registry.TypeUint16:
		v, err := r.readUint(2)
		return value.Int(int64(v)), err
	case registry.TypeUint32:
		v, err := r.readUint(4)
		return value.Int(int64(v)), err
	case registry.TypeUint64:
		v, err := r.readUint(8)
		if v >= 1<<53 {
			return value.Decimal(fmt.Sprintf("%d", v)), err
		}
		return value.Int(int64(v)), err
	case registry.TypeUint128:
		dec, err := r.readWideUintDecimal(16)
		return value.Decimal(dec), err
	case registry.TypeInt8:
		v, err := r.readUint(1)
		return value.Int(int64(int8(v))), err
	case registry.TypeInt16:
		v, err := r.readUint(2)
		return value.Int(int64(int16(v))), err
	case registry.TypeInt32:
		v, err := r.readUint(4)
		return value.Int(int64(int32(v))), err
	case registry.TypeInt64:
		v, err := r.readUint(8)
		if i := int64(v); i >= 1<<53 || i <= -(1<<53) {
			return value.Decimal(fmt.Sprintf("%d", i)), err
		}
		return value.Int(int64(v)), err
	case registry.TypeInt128:
		dec, err := r.readWideIntDecimal(16)
		return value.Decimal(dec), err
	case registry.TypeBool:
		b, err := r.readByte()
		return value.Bool(b != 0), err
	case registry.TypeFixedHex:
		b, err := r.readN(f.FixedLen)
		if err != nil {
			return value.Value{}, err
		}
		return value.String("0x" + hex.EncodeToString(b)), nil
	case registry.TypeAccount:
		b, err := r.readN(32)
		if err != nil {
			return value.Value{}, err
		}
		return value.String("0x" + hex.EncodeToString(b)), nil
	case registry.TypeBytes:
		n, err := r.readCompactLen()
		if err != nil {
			return value.Value{}, err
		}
		b, err := r.readN(n)
		if err != nil {
			return value.Value{}, err
		}
		if utf8.Valid(b) {
			return value.String(string(b)), nil
		}
		return value.String("0x" + hex.EncodeToString(b)), nil
	case registry.TypeOpaque:
		n, err := r.readCompactLen()
		if err != nil {
			return value.Value{}, err
		}
		b, err := r.readN(n)
		if err != nil {
			return value.Value{}, err
		}
		return value.String("0x" + hex.EncodeToString(b)), nil
	default:
		return value.Value{}, fmt.Errorf("chain: unsupported scalar type %q", f.Type)
	}
}
