package responder

import (
	"encoding/base64"
	"strings"
)

var urlSafe = strings.NewReplacer("+", "-", "/", "_")

// EncodeRaw converts a flattened message into the envelope format Gmail accepts in
// messages.send: standard base64 with + and / swapped for - and _, trailing padding removed.
func EncodeRaw(raw []byte) string {
	return strings.TrimRight(urlSafe.Replace(base64.StdEncoding.EncodeToString(raw)), "=")
}

// DecodeRaw reverses EncodeRaw. Padded input is accepted.
func DecodeRaw(encoded string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
}
