package decode

// Integer assembles width consecutive words starting at addr into an integer,
// most significant word first. Widths of 1, 2 and 4 words yield 16, 32 and
// 64-bit values. The second return is false if any word is missing or width
// is unsupported.
func Integer(src WordSource, addr, width int, signed bool) (Number, bool) {
	var dt DataType
	switch {
	case width == 1 && signed:
		dt = Int16
	case width == 1:
		dt = UInt16
	case width == 2 && signed:
		dt = Int32
	case width == 2:
		dt = UInt32
	case width == 4 && signed:
		dt = Int64
	case width == 4:
		dt = UInt64
	default:
		return Number{}, false
	}
	return Read(src, addr, dt)
}

// Read decodes the integer described by dt at addr.
func Read(src WordSource, addr int, dt DataType) (Number, bool) {
	if src == nil || dt.Validate() != nil {
		return Number{}, false
	}
	var raw uint64
	for i := 0; i < dt.Width; i++ {
		word, ok := src.Word(addr + i)
		if !ok {
			return Number{}, false
		}
		raw = raw<<16 | uint64(word)
	}
	return Number{Raw: raw, Type: dt}, true
}
