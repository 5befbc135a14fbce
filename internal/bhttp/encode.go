package bhttp

func appendString(b []byte, s string) []byte {
	b = appendVarint(b, uint64(len(s)))
	return append(b, s...)
}

func appendFieldSection(b []byte, fields []Field) []byte {
	var section []byte
	for _, f := range fields {
		section = appendString(section, f.Name)
		section = appendString(section, f.Value)
	}
	b = appendVarint(b, uint64(len(section)))
	return append(b, section...)
}

// EncodeRequest serializes a request in known-length form. The output is
// deterministic: the same logical message always produces the same bytes,
// since downstream parties may hash or compare the plaintext. Empty and
// nil Headers/Body encode identically; decoding yields the nil form.
func EncodeRequest(req *Request) []byte {
	b := appendVarint(nil, framingRequest)
	b = appendString(b, req.Method)
	b = appendString(b, req.Scheme)
	b = appendString(b, req.Authority)
	b = appendString(b, req.Path)
	b = appendFieldSection(b, req.Headers)
	b = appendVarint(b, uint64(len(req.Body)))
	b = append(b, req.Body...)
	b = appendFieldSection(b, nil) // trailers
	return b
}

// EncodeResponse serializes a response in known-length form without
// interim responses.
func EncodeResponse(resp *Response) []byte {
	b := appendVarint(nil, framingResponse)
	b = appendVarint(b, uint64(resp.Status))
	b = appendFieldSection(b, resp.Headers)
	b = appendVarint(b, uint64(len(resp.Body)))
	b = append(b, resp.Body...)
	b = appendFieldSection(b, nil) // trailers
	return b
}
