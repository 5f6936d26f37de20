package responder

import (
	"encoding/base64"
	"testing"
)

func TestEncodeRawVectors(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
		want string
	}{
		{
			name: "plus-slash-padding",
			raw:  []byte{0xfb, 0xff},
			want: "-_8",
		},
		{
			name: "reply-envelope",
			raw:  []byte("From: me\r\nTo: a@b.com\r\nSubject: Re: Hello\r\n\r\nI'm away?>>"),
			want: "RnJvbTogbWUNClRvOiBhQGIuY29tDQpTdWJqZWN0OiBSZTogSGVsbG8NCg0KSSdtIGF3YXk_Pj4",
		},
		{
			name: "no-padding-needed",
			raw:  []byte("subjects?>>>"),
			want: "c3ViamVjdHM_Pj4-",
		},
		{
			name: "empty",
			raw:  nil,
			want: "",
		},
	}
	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got := EncodeRaw(tc.raw)
			if got != tc.want {
				t.Fatalf("EncodeRaw = %q, want %q", got, tc.want)
			}
			if std := base64.RawURLEncoding.EncodeToString(tc.raw); got != std {
				t.Fatalf("EncodeRaw diverges from RawURLEncoding: %q vs %q", got, std)
			}
		})
	}
}

func TestDecodeRawAcceptsPadding(t *testing.T) {
	got, err := DecodeRaw("-_8=")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != 0xfb || got[1] != 0xff {
		t.Fatalf("unexpected bytes %x", got)
	}
}
