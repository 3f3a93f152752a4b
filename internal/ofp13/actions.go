package ofp13

import "encoding/binary"

// Action instruction/action type codes, the subset Sieve emits.
const (
	actionTypeOutput uint16 = 0
	actionOutputLen  uint16 = 16

	instrTypeApplyActions uint16 = 4
)

// OutputAction returns the wire encoding of a single OFPAT_OUTPUT action
// targeting port. max_len is left at 0; it only matters for output to the
// controller.
func OutputAction(port uint32) []byte {
	b := make([]byte, actionOutputLen)
	binary.BigEndian.PutUint16(b[0:2], actionTypeOutput)
	binary.BigEndian.PutUint16(b[2:4], actionOutputLen)
	binary.BigEndian.PutUint32(b[4:8], port)
	// b[8:10] max_len left at 0; b[10:16] padding left at 0.
	return b
}

// ApplyActionsInstruction wraps actions (already-marshalled action bytes,
// concatenated) in an OFPIT_APPLY_ACTIONS instruction.
func ApplyActionsInstruction(actions []byte) []byte {
	length := 8 + len(actions)
	b := make([]byte, 8, length)
	binary.BigEndian.PutUint16(b[0:2], instrTypeApplyActions)
	binary.BigEndian.PutUint16(b[2:4], uint16(length))
	// b[4:8] padding left at 0.
	return append(b, actions...)
}
