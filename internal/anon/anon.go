// Package anon derives stable pseudonyms for hardware and IP addresses.
//
// Every cooperating device holds the same consensus key, so the same
// station gets the same pseudonym in all of their logs while the real
// address never appears.
package anon

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/netip"

	"waveguide/internal/model"
)

// MAC returns a pseudonym for mac under key.
func MAC(key [16]byte, mac model.MAC) string {
	return "mac-" + digest(key, mac[:])
}

// IP returns a pseudonym for ip under key.
func IP(key [16]byte, ip netip.Addr) string {
	b, _ := ip.MarshalBinary()
	return "ip-" + digest(key, b)
}

func digest(key [16]byte, msg []byte) string {
	h := hmac.New(sha256.New, key[:])
	h.Write(msg)
	return hex.EncodeToString(h.Sum(nil)[:4])
}
