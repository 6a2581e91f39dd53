package wire

import (
	"strings"
	"testing"
)

func TestBinaryRoundTrip(t *testing.T) {
	cases := []Frame{
		{Type: "stdin", SessionID: "abc123", Payload: []byte("echo hi\n")},
		{Type: "stdin", SessionID: "", Payload: []byte{}},
		{Type: "stdout", SessionID: "sess-1", Payload: []byte{0, 1, 2, 3, 0xff}},
		{Type: "resize", SessionID: "sess-1", Rows: 24, Cols: 80},
		{Type: "resize", SessionID: "sess-1", Rows: 0, Cols: 0},
		{Type: "resize", SessionID: "sess-1", Rows: 65535, Cols: 65535},
		{Type: "ping", SessionID: ""},
		{Type: "pong", SessionID: "x"},
	}

	for _, want := range cases {
		enc, err := EncodeBinary(want)
		if err != nil {
			t.Fatalf("EncodeBinary(%+v): %v", want, err)
		}
		got, ok := DecodeBinary(enc)
		if !ok {
			t.Fatalf("DecodeBinary rejected a frame we just encoded: %+v", want)
		}
		if got.Type != want.Type || got.SessionID != want.SessionID {
			t.Errorf("got type/session %q/%q, want %q/%q", got.Type, got.SessionID, want.Type, want.SessionID)
		}
		switch want.Type {
		case "stdin", "stdout":
			if string(got.Payload) != string(want.Payload) {
				t.Errorf("payload mismatch: got %v want %v", got.Payload, want.Payload)
			}
		case "resize":
			if got.Rows != want.Rows || got.Cols != want.Cols {
				t.Errorf("resize mismatch: got %d/%d want %d/%d", got.Rows, got.Cols, want.Rows, want.Cols)
			}
		}
	}
}

func TestResizePayloadIsExactlyFourBytes(t *testing.T) {
	enc, err := EncodeBinary(Frame{Type: "resize", SessionID: "s", Rows: 24, Cols: 80})
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	// header(4) + len("s")(1) + payload(4)
	if len(enc) != 4+1+4 {
		t.Fatalf("encoded length = %d, want 9", len(enc))
	}
}

func TestVersionGuardNeverPanics(t *testing.T) {
	inputs := [][]byte{
		nil,
		{},
		{0x02, 0x01, 0x00, 0x00},
		{0xff},
		{0x01},
		{0x01, 0x01, 0xff, 0xff}, // length 65535 but no bytes follow
		{0x01, 99, 0x00, 0x00},   // unknown type code
	}
	for _, in := range inputs {
		f, ok := DecodeBinary(in)
		// §8 property 3: any byte sequence whose first byte isn't Version
		// decodes to unsupported, with no length floor whatsoever.
		if len(in) >= 1 && in[0] != Version {
			if !ok || f.Type != JSONUnsupported {
				t.Errorf("DecodeBinary(%v) = %+v, %v; want unsupported", in, f, ok)
			}
			continue
		}
		if len(in) == 0 && ok {
			t.Errorf("DecodeBinary(%v) = %+v, %v; want (nil, false) on empty input", in, f, ok)
		}
	}
}

func TestJSONVersionInjectedWhenAbsent(t *testing.T) {
	data, err := EncodeJSON(Frame{Type: JSONList})
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if !strings.Contains(string(data), `"v":1`) {
		t.Errorf("encoded frame missing v:1: %s", data)
	}

	// A frame with no "v" key at all must still decode as version 1.
	f, err := DecodeJSON([]byte(`{"type":"list"}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if f.Type != JSONList {
		t.Errorf("Type = %q, want %q", f.Type, JSONList)
	}
}

func TestJSONUnsupportedVersion(t *testing.T) {
	f, err := DecodeJSON([]byte(`{"v":2,"type":"list"}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if f.Type != JSONUnsupported || f.Version != 2 {
		t.Errorf("got %+v, want unsupported v=2", f)
	}
}

func TestJSONUnknownTypeIgnored(t *testing.T) {
	f, err := DecodeJSON([]byte(`{"v":1,"type":"something_new","extra":true}`))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if f.Type != "unknown" || f.RawType != "something_new" {
		t.Errorf("got %+v, want unknown/something_new", f)
	}
}

func TestSessionListRoundTrip(t *testing.T) {
	want := []string{"a", "b", "c"}
	data, err := EncodeJSON(Frame{Type: JSONSessionList, Sessions: want})
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	f, err := DecodeJSON(data)
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if len(f.Sessions) != len(want) {
		t.Fatalf("got %v, want %v", f.Sessions, want)
	}
	for i := range want {
		if f.Sessions[i] != want[i] {
			t.Errorf("sessions[%d] = %q, want %q", i, f.Sessions[i], want[i])
		}
	}
}

func TestSessionListEmptyIsNotNull(t *testing.T) {
	data, err := EncodeJSON(Frame{Type: JSONSessionList, Sessions: nil})
	if err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("empty session list encoded as null: %s", data)
	}
}
