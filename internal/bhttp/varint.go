package bhttp

// Variable-length integers use the QUIC encoding (RFC 9000 §16): the two
// high bits of the first byte select a 1, 2, 4 or 8 byte encoding. The
// encoder always emits the minimal form so that encoding is deterministic.

const maxVarint = (1 << 62) - 1

func appendVarint(b []byte, v uint64) []byte {
	switch {
	case v < 1<<6:
		return append(b, byte(v))
	case v < 1<<14:
		return append(b, 0x40|byte(v>>8), byte(v))
	case v < 1<<30:
		return append(b, 0x80|byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	default:
		return append(b,
			0xc0|byte(v>>56), byte(v>>48), byte(v>>40), byte(v>>32),
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}

// readVarint decodes one varint from b starting at off and returns the
// value and the offset past it. Non-minimal encodings are rejected so
// every value has exactly one wire form.
func readVarint(b []byte, off int) (uint64, int, error) {
	if off >= len(b) {
		return 0, 0, malformed("truncated varint")
	}
	first := b[off]
	n := 1 << (first >> 6)
	if off+n > len(b) {
		return 0, 0, malformed("truncated varint")
	}
	v := uint64(first & 0x3f)
	for i := 1; i < n; i++ {
		v = v<<8 | uint64(b[off+i])
	}
	if (n == 2 && v < 1<<6) || (n == 4 && v < 1<<14) || (n == 8 && v < 1<<30) {
		return 0, 0, malformed("non-minimal varint encoding of %d in %d bytes", v, n)
	}
	return v, off + n, nil
}
