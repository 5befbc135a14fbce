package bhttp

type decoder struct {
	b   []byte
	off int
	max int
}

// length reads a varint length and bounds it. Oversize is checked before
// the remaining-bytes check so an adversarial length never drives an
// allocation attempt.
func (d *decoder) length() (int, error) {
	v, off, err := readVarint(d.b, d.off)
	if err != nil {
		return 0, err
	}
	if v > uint64(d.max) {
		return 0, oversize(int(v), d.max)
	}
	if int(v) > len(d.b)-off {
		return 0, malformed("declared length %d exceeds %d remaining bytes", v, len(d.b)-off)
	}
	d.off = off
	return int(v), nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		d.off += n
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, d.b[d.off:d.off+n])
	d.off += n
	return out, nil
}

func (d *decoder) string() (string, error) {
	n, err := d.length()
	if err != nil {
		return "", err
	}
	s := string(d.b[d.off : d.off+n])
	d.off += n
	return s, nil
}

func (d *decoder) done() bool {
	return d.off >= len(d.b)
}

// fieldSection reads one length-prefixed field section.
func (d *decoder) fieldSection() ([]Field, error) {
	n, err := d.length()
	if err != nil {
		return nil, err
	}
	end := d.off + n
	var fields []Field
	for d.off < end {
		name, err := d.string()
		if err != nil {
			return nil, err
		}
		value, err := d.string()
		if err != nil {
			return nil, err
		}
		if d.off > end {
			return nil, malformed("field crosses section boundary")
		}
		fields = append(fields, Field{Name: name, Value: value})
	}
	if d.off != end {
		return nil, malformed("field section length mismatch")
	}
	return fields, nil
}

// trailerAndPadding consumes the optional trailer section and any zero
// padding. Trailer fields are accepted but not surfaced.
func (d *decoder) trailerAndPadding() error {
	if d.done() {
		return nil
	}
	if _, err := d.fieldSection(); err != nil {
		return err
	}
	for ; d.off < len(d.b); d.off++ {
		if d.b[d.off] != 0 {
			return malformed("non-zero padding byte")
		}
	}
	return nil
}

// DecodeRequest parses a known-length binary HTTP request. max bounds
// every declared length in the message; inputs larger than max are
// rejected outright.
func DecodeRequest(b []byte, max int) (*Request, error) {
	if len(b) > max {
		return nil, oversize(len(b), max)
	}
	d := &decoder{b: b, max: max}
	framing, off, err := readVarint(b, 0)
	if err != nil {
		return nil, err
	}
	if framing != framingRequest {
		return nil, malformed("framing indicator %d is not a known-length request", framing)
	}
	d.off = off

	req := &Request{}
	if req.Method, err = d.string(); err != nil {
		return nil, err
	}
	if req.Scheme, err = d.string(); err != nil {
		return nil, err
	}
	if req.Authority, err = d.string(); err != nil {
		return nil, err
	}
	if req.Path, err = d.string(); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, malformed("empty method")
	}
	if d.done() {
		return req, nil
	}
	if req.Headers, err = d.fieldSection(); err != nil {
		return nil, err
	}
	if d.done() {
		return req, nil
	}
	if req.Body, err = d.bytes(); err != nil {
		return nil, err
	}
	if err := d.trailerAndPadding(); err != nil {
		return nil, err
	}
	return req, nil
}

// DecodeResponse parses a known-length binary HTTP response. Interim
// (1xx) responses and their field sections are consumed and discarded.
func DecodeResponse(b []byte, max int) (*Response, error) {
	if len(b) > max {
		return nil, oversize(len(b), max)
	}
	d := &decoder{b: b, max: max}
	framing, off, err := readVarint(b, 0)
	if err != nil {
		return nil, err
	}
	if framing != framingResponse {
		return nil, malformed("framing indicator %d is not a known-length response", framing)
	}
	d.off = off

	var status uint64
	for {
		status, d.off, err = readVarint(d.b, d.off)
		if err != nil {
			return nil, err
		}
		if status >= 100 && status <= 199 {
			if _, err := d.fieldSection(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if status < 200 || status > 599 {
		return nil, malformed("status %d out of range", status)
	}

	resp := &Response{Status: int(status)}
	if d.done() {
		return resp, nil
	}
	if resp.Headers, err = d.fieldSection(); err != nil {
		return nil, err
	}
	if d.done() {
		return resp, nil
	}
	if resp.Body, err = d.bytes(); err != nil {
		return nil, err
	}
	if err := d.trailerAndPadding(); err != nil {
		return nil, err
	}
	return resp, nil
}
