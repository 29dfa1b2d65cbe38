package emit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Binary unit format
// ---------------------------------------------------------------------------
//
//	magic   [4]byte  "SPCU"
//	version uint16   big endian
//	body    canonical CBOR encoding of the Blueprint

var unitMagic = [4]byte{'S', 'P', 'C', 'U'}

// FormatVersion is the binary unit format version.
const FormatVersion uint16 = 1

const headerSize = 6

var (
	// ErrBadMagic reports a blob that is not a binary unit.
	ErrBadMagic = errors.New("emit: bad unit magic")

	// ErrVersion reports an unsupported format version.
	ErrVersion = errors.New("emit: unsupported unit format version")

	// ErrMalformed reports a structurally invalid blueprint.
	ErrMalformed = errors.New("emit: malformed blueprint")
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("emit: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encoder turns blueprints into binary units. Encoding is deterministic:
// equal blueprints produce identical bytes.
type Encoder struct{}

// Emit validates and encodes a blueprint.
func (Encoder) Emit(bp *Blueprint) ([]byte, error) {
	if err := Validate(bp); err != nil {
		return nil, err
	}
	body, err := cborEncMode.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("emit: marshal %s: %w", bp.Name, err)
	}
	var buf bytes.Buffer
	buf.Grow(headerSize + len(body))
	buf.Write(unitMagic[:])
	binary.Write(&buf, binary.BigEndian, FormatVersion)
	buf.Write(body)
	return buf.Bytes(), nil
}

// Decode parses a binary unit back into its blueprint.
func Decode(blob []byte) (*Blueprint, error) {
	if len(blob) < headerSize || !bytes.Equal(blob[:4], unitMagic[:]) {
		return nil, ErrBadMagic
	}
	if v := binary.BigEndian.Uint16(blob[4:6]); v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, v)
	}
	var bp Blueprint
	if err := cbor.Unmarshal(blob[headerSize:], &bp); err != nil {
		return nil, fmt.Errorf("emit: unmarshal unit: %w", err)
	}
	if err := Validate(&bp); err != nil {
		return nil, err
	}
	return &bp, nil
}

// Validate checks blueprint structure: names present and unique, bodies
// present exactly for non-abstract methods, handler ranges within code.
// It does not resolve types; that is the registry verifier's job.
func Validate(bp *Blueprint) error {
	if bp.Name == "" {
		return fmt.Errorf("%w: unit has no name", ErrMalformed)
	}
	if bp.Super == "" {
		return fmt.Errorf("%w: %s has no super type", ErrMalformed, bp.Name)
	}
	fields := make(map[string]bool, len(bp.Fields))
	for _, f := range bp.Fields {
		if f.Name == "" || f.Desc == "" {
			return fmt.Errorf("%w: %s: field with empty name or descriptor", ErrMalformed, bp.Name)
		}
		if fields[f.Name] {
			return fmt.Errorf("%w: %s: duplicate field %s", ErrMalformed, bp.Name, f.Name)
		}
		fields[f.Name] = true
	}
	methods := make(map[string]bool, len(bp.Methods))
	for _, m := range bp.Methods {
		key := m.Name + m.Desc
		if m.Name == "" || m.Desc == "" {
			return fmt.Errorf("%w: %s: method with empty name or descriptor", ErrMalformed, bp.Name)
		}
		if methods[key] {
			return fmt.Errorf("%w: %s: duplicate method %s", ErrMalformed, bp.Name, key)
		}
		methods[key] = true
		abstract := m.Flags.Has(FlagAbstract)
		if abstract != (len(m.Code) == 0) {
			return fmt.Errorf("%w: %s.%s: abstract methods have no code, others must", ErrMalformed, bp.Name, key)
		}
		for _, h := range m.Handlers {
			if h.Start < 0 || h.Start >= h.End || h.End > len(m.Code) || h.Target < 0 || h.Target >= len(m.Code) {
				return fmt.Errorf("%w: %s.%s: handler [%d,%d)->%d out of range", ErrMalformed, bp.Name, key, h.Start, h.End, h.Target)
			}
		}
	}
	return nil
}
