package emit

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single instruction of a generated method body.
type Opcode byte

// Stack Operations
const (
	OpNop  Opcode = 0x00 // no operation
	OpPop  Opcode = 0x01 // discard top of stack
	OpDup  Opcode = 0x02 // duplicate top of stack
	OpSwap Opcode = 0x03 // exchange the two top values
)

// Constants
const (
	OpPushNull   Opcode = 0x10 // push null
	OpPushInt    Opcode = 0x11 // push int A
	OpPushString Opcode = 0x12 // push string Name
)

// Variables, fields and unit metadata
const (
	OpLoad      Opcode = 0x20 // push local A
	OpStore     Opcode = 0x21 // pop into local A
	OpGetField  Opcode = 0x22 // pop object, push field Name
	OpPutField  Opcode = 0x23 // pop value, pop object, store field Name
	OpGetStatic Opcode = 0x24 // push static Name
	OpPutStatic Opcode = 0x25 // pop into static Name
	OpGetMeta   Opcode = 0x26 // push the unit's published metadata
	OpClassData Opcode = 0x27 // push class data object A
)

// Object creation and invocation
const (
	OpNew             Opcode = 0x30 // push new uninitialized instance of unit Owner
	OpInvokeSpecial   Opcode = 0x31 // non-virtual call of Owner.Name Desc (receiver included)
	OpInvokeVirtual   Opcode = 0x32 // receiver-dispatched call of Name Desc
	OpInvokeStatic    Opcode = 0x33 // call static Owner.Name Desc
	OpInvokeHandle    Opcode = 0x34 // pop args and handle, invoke exactly with type Desc
	OpTransformHelper Opcode = 0x35 // pop metadata, push its transform helper A
)

// Conversions
const (
	OpConvert    Opcode = 0x40 // convert top of stack, Desc is "(from)to"
	OpCheckCast  Opcode = 0x41 // checked cast of top of stack to type Desc
	OpInstanceOf Opcode = 0x42 // pop value, push whether it is a Desc
)

// Control Flow
const (
	OpJump          Opcode = 0x50 // jump to A
	OpJumpIfTrue    Opcode = 0x51 // pop boolean, jump to A if true
	OpJumpIfFalse   Opcode = 0x52 // pop boolean, jump to A if false
	OpJumpIfNull    Opcode = 0x53 // pop, jump to A if null
	OpJumpIfNonNull Opcode = 0x54 // pop, jump to A if not null
	OpJumpIfIGE     Opcode = 0x55 // pop int b, pop int a, jump to A if a >= b
	OpIInc          Opcode = 0x56 // local A += B (int)
)

// Returns
const (
	OpReturn     Opcode = 0x60 // return top of stack
	OpReturnVoid Opcode = 0x61 // return nothing
	OpThrow      Opcode = 0x62 // pop and raise a throwable
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	StackEffect int    // net effect on stack (-99 = depends on descriptor)
	Branch      bool   // A is a jump target
	Terminal    bool   // control never falls through
}

// VariableEffect marks opcodes whose stack effect depends on a descriptor.
const VariableEffect = -99

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:  {Name: "NOP"},
	OpPop:  {Name: "POP", StackEffect: -1},
	OpDup:  {Name: "DUP", StackEffect: 1},
	OpSwap: {Name: "SWAP"},

	OpPushNull:   {Name: "PUSH_NULL", StackEffect: 1},
	OpPushInt:    {Name: "PUSH_INT", StackEffect: 1},
	OpPushString: {Name: "PUSH_STRING", StackEffect: 1},

	OpLoad:      {Name: "LOAD", StackEffect: 1},
	OpStore:     {Name: "STORE", StackEffect: -1},
	OpGetField:  {Name: "GET_FIELD"},
	OpPutField:  {Name: "PUT_FIELD", StackEffect: -2},
	OpGetStatic: {Name: "GET_STATIC", StackEffect: 1},
	OpPutStatic: {Name: "PUT_STATIC", StackEffect: -1},
	OpGetMeta:   {Name: "GET_META", StackEffect: 1},
	OpClassData: {Name: "CLASS_DATA", StackEffect: 1},

	OpNew:             {Name: "NEW", StackEffect: 1},
	OpInvokeSpecial:   {Name: "INVOKE_SPECIAL", StackEffect: VariableEffect},
	OpInvokeVirtual:   {Name: "INVOKE_VIRTUAL", StackEffect: VariableEffect},
	OpInvokeStatic:    {Name: "INVOKE_STATIC", StackEffect: VariableEffect},
	OpInvokeHandle:    {Name: "INVOKE_HANDLE", StackEffect: VariableEffect},
	OpTransformHelper: {Name: "TRANSFORM_HELPER"},

	OpConvert:    {Name: "CONVERT"},
	OpCheckCast:  {Name: "CHECK_CAST"},
	OpInstanceOf: {Name: "INSTANCE_OF"},

	OpJump:          {Name: "JUMP", Branch: true, Terminal: true},
	OpJumpIfTrue:    {Name: "JUMP_IF_TRUE", StackEffect: -1, Branch: true},
	OpJumpIfFalse:   {Name: "JUMP_IF_FALSE", StackEffect: -1, Branch: true},
	OpJumpIfNull:    {Name: "JUMP_IF_NULL", StackEffect: -1, Branch: true},
	OpJumpIfNonNull: {Name: "JUMP_IF_NONNULL", StackEffect: -1, Branch: true},
	OpJumpIfIGE:     {Name: "JUMP_IF_IGE", StackEffect: -2, Branch: true},
	OpIInc:          {Name: "IINC"},

	OpReturn:     {Name: "RETURN", StackEffect: -1, Terminal: true},
	OpReturnVoid: {Name: "RETURN_VOID", Terminal: true},
	OpThrow:      {Name: "THROW", StackEffect: -1, Terminal: true},
}

// Info returns metadata for an opcode.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}
