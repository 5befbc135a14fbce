package bhttp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMax = 65536

func TestRequestRoundTrip(t *testing.T) {
	cases := []*Request{
		{
			Method:    "POST",
			Scheme:    "https",
			Authority: "payjo.in",
			Path:      "/abc123/request",
			Headers:   []Field{{Name: "content-type", Value: "application/octet-stream"}},
			Body:      []byte("req-bytes"),
		},
		{
			Method: "GET",
			Scheme: "https",
			Path:   "/abc123/response",
		},
		{
			Method: "POST",
			Scheme: "http",
			Path:   "/x1y2z3/request",
			Headers: []Field{
				{Name: "accept", Value: "message/ohttp-res"},
				{Name: "accept", Value: "*/*"}, // duplicates preserved in order
			},
			Body: make([]byte, 4096),
		},
	}

	for _, want := range cases {
		got, err := DecodeRequest(EncodeRequest(want), testMax)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	cases := []*Response{
		{Status: 200, Body: []byte("payload")},
		{Status: 202},
		{
			Status:  400,
			Headers: []Field{{Name: "content-type", Value: "text/plain"}},
			Body:    []byte("Invalid request"),
		},
	}

	for _, want := range cases {
		got, err := DecodeResponse(EncodeResponse(want), testMax)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestEmptySectionsNormalizeToNil(t *testing.T) {
	// Empty and nil Headers/Body are indistinguishable on the wire;
	// decoding always yields the nil form.
	empty := &Request{
		Method:  "GET",
		Scheme:  "https",
		Path:    "/abc123/response",
		Headers: []Field{},
		Body:    []byte{},
	}
	nilForm := &Request{Method: "GET", Scheme: "https", Path: "/abc123/response"}

	require.Equal(t, EncodeRequest(nilForm), EncodeRequest(empty))
	got, err := DecodeRequest(EncodeRequest(empty), testMax)
	require.NoError(t, err)
	require.Equal(t, nilForm, got)

	gotResp, err := DecodeResponse(EncodeResponse(&Response{Status: 202, Headers: []Field{}, Body: []byte{}}), testMax)
	require.NoError(t, err)
	require.Equal(t, &Response{Status: 202}, gotResp)
}

func TestEncodeDeterministic(t *testing.T) {
	req := &Request{
		Method:  "POST",
		Scheme:  "https",
		Path:    "/session/request",
		Headers: []Field{{Name: "a", Value: "1"}, {Name: "b", Value: "2"}},
		Body:    []byte{1, 2, 3},
	}
	require.Equal(t, EncodeRequest(req), EncodeRequest(req))

	decoded, err := DecodeRequest(EncodeRequest(req), testMax)
	require.NoError(t, err)
	require.Equal(t, EncodeRequest(req), EncodeRequest(decoded))
}

func TestDecodeRequestTruncated(t *testing.T) {
	full := EncodeRequest(&Request{
		Method: "POST",
		Scheme: "https",
		Path:   "/abc123/request",
		Body:   []byte("req-bytes"),
	})

	// Chopping inside the body or control data must fail, never panic.
	for i := 1; i < len(full)-1; i++ {
		_, err := DecodeRequest(full[:i], testMax)
		if err != nil {
			assert.ErrorIs(t, err, ErrMalformed, "truncated at %d", i)
		}
	}
}

func TestDecodeRequestBadFraming(t *testing.T) {
	resp := EncodeResponse(&Response{Status: 200})
	_, err := DecodeRequest(resp, testMax)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeResponse(EncodeRequest(&Request{Method: "GET", Scheme: "https", Path: "/"}), testMax)
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeRequest(nil, testMax)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeEmptyMethod(t *testing.T) {
	b := EncodeRequest(&Request{Scheme: "https", Path: "/"})
	_, err := DecodeRequest(b, testMax)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeOversizeClaim(t *testing.T) {
	// A request whose body length claims more than the limit must be
	// rejected with ErrOversize before any allocation happens.
	b := appendVarint(nil, framingRequest)
	b = appendString(b, "POST")
	b = appendString(b, "https")
	b = appendString(b, "")
	b = appendString(b, "/abc123/request")
	b = appendFieldSection(b, nil)
	b = appendVarint(b, 1<<40) // absurd body length

	_, err := DecodeRequest(b, testMax)
	require.ErrorIs(t, err, ErrOversize)

	// An input longer than the limit is rejected up front.
	_, err = DecodeRequest(make([]byte, testMax+1), testMax)
	require.ErrorIs(t, err, ErrOversize)
}

func TestDecodeFieldSectionMismatch(t *testing.T) {
	b := appendVarint(nil, framingRequest)
	b = appendString(b, "GET")
	b = appendString(b, "https")
	b = appendString(b, "")
	b = appendString(b, "/")
	// Field section claims 3 bytes but contains a field spanning 4.
	b = appendVarint(b, 3)
	b = appendString(b, "a")
	b = appendString(b, "b")

	_, err := DecodeRequest(b, testMax)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeResponseInterim(t *testing.T) {
	// A 1xx interim response and its field section are consumed before
	// the final status.
	b := appendVarint(nil, framingResponse)
	b = appendVarint(b, 102)
	b = appendFieldSection(b, []Field{{Name: "processing", Value: "1"}})
	b = appendVarint(b, 200)
	b = appendFieldSection(b, nil)
	b = appendVarint(b, 2)
	b = append(b, 'o', 'k')
	b = appendFieldSection(b, nil)

	resp, err := DecodeResponse(b, testMax)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, []byte("ok"), resp.Body)
}

func TestVarintRejectsNonMinimal(t *testing.T) {
	cases := [][]byte{
		{0x40, 0x05},                                     // 5 in 2 bytes
		{0x80, 0x00, 0x00, 0x05},                         // 5 in 4 bytes
		{0xc0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05}, // 5 in 8 bytes
		{0x80, 0x00, 0x3f, 0xff},                         // 16383 in 4 bytes
	}
	for _, b := range cases {
		_, _, err := readVarint(b, 0)
		assert.ErrorIs(t, err, ErrMalformed, "%x", b)
	}

	// A non-minimal length inside a message is rejected too.
	b := appendVarint(nil, framingRequest)
	b = append(b, 0x40, 0x03) // method length 3, padded form
	b = append(b, 'G', 'E', 'T')
	_, err := DecodeRequest(b, testMax)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestVarintRoundTrip(t *testing.T) {
	for _, v := range []uint64{0, 1, 63, 64, 16383, 16384, 1<<30 - 1, 1 << 30, maxVarint} {
		b := appendVarint(nil, v)
		got, off, err := readVarint(b, 0)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(b), off)
	}
}
