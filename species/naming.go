package species

import (
	"strconv"
	"strings"

	"github.com/chazu/linkage/vm"
)

// UnitName derives the name of the unit generated for a field-type list:
// base, an underscore, then one descriptor character per primitive field
// and 'L' + escaped name + '$' per reference field. Names only depend on
// the field types, so the same shape always maps to the same name.
//
// Escaping keeps ASCII letters, digits and '_' and writes every other byte
// as '$' followed by two lowercase hex digits. A reference terminator '$'
// is always followed by an uppercase descriptor character or the end of
// the name, which keeps the encoding unambiguous.
func UnitName(base string, fieldTypes []*vm.Type) string {
	var sb strings.Builder
	sb.WriteString(base)
	sb.WriteByte('_')
	sb.WriteString(Signature(fieldTypes))
	return sb.String()
}

// Signature is the type-signature suffix of UnitName.
func Signature(fieldTypes []*vm.Type) string {
	var sb strings.Builder
	for _, t := range fieldTypes {
		if t.IsPrimitive() {
			sb.WriteByte(t.DescriptorChar())
			continue
		}
		sb.WriteByte('L')
		escape(&sb, t.Name())
		sb.WriteByte('$')
	}
	return sb.String()
}

func escape(sb *strings.Builder, name string) {
	const hex = "0123456789abcdef"
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			sb.WriteByte(c)
		default:
			sb.WriteByte('$')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0xf])
		}
	}
}

// FieldName is the name of the generated field holding field i of type t:
// "arg" + descriptor character + index, e.g. argI0, argL1.
func FieldName(i int, t *vm.Type) string {
	return "arg" + string(t.DescriptorChar()) + strconv.Itoa(i)
}
