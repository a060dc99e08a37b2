package program

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Disassemble renders a bytecode stream as one instruction per line with
// constant pool references resolved. Meant for tests, logs and humans; the
// output format is not stable.
func Disassemble(pool *ConstantPool, code []byte) string {
	var b strings.Builder
	ip := 0
	for ip < len(code) {
		op := Opcode(code[ip])
		width := op.OperandWidth()
		fmt.Fprintf(&b, "%04d  %-11s", ip, op.String())
		if width < 0 {
			fmt.Fprintf(&b, " 0x%02x ; bad opcode\n", byte(op))
			return b.String()
		}
		if ip+1+width > len(code) {
			b.WriteString(" ; truncated operand\n")
			return b.String()
		}
		switch op {
		case OpPushConst, OpLoadVar, OpStoreVar, OpLoadReq, OpStoreReq, OpGetAttr:
			idx := binary.LittleEndian.Uint16(code[ip+1:])
			fmt.Fprintf(&b, " %d", idx)
			if c, ok := pool.Get(idx); ok {
				fmt.Fprintf(&b, " ; %s", c.String())
			} else {
				b.WriteString(" ; out of range")
			}
		case OpCallFunc:
			idx := binary.LittleEndian.Uint16(code[ip+1:])
			argc := code[ip+3]
			fmt.Fprintf(&b, " %d, %d", idx, argc)
			if c, ok := pool.Get(idx); ok {
				fmt.Fprintf(&b, " ; %s/%d", c.Text(), argc)
			}
		case OpCapture:
			fmt.Fprintf(&b, " %d, %d", code[ip+1], code[ip+2])
		}
		b.WriteByte('\n')
		ip += 1 + width
	}
	return b.String()
}
