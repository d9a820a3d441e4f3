package authorization

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/binary"
)

// totpDigits is the code length the TOTP plugin mints and verifies.
// No TOTP library appears anywhere in the retrieved example pack, so
// this is a direct RFC 6238 / RFC 4226 implementation over the
// standard library's crypto/hmac and crypto/sha1 (documented as a
// deliberate stdlib exception).
const totpDigits = 8

const totpStep = 30 // seconds, RFC 6238 default

var totpMod = [9]uint32{1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000}

// hotp computes the RFC 4226 HOTP value for counter over secret,
// truncated to totpDigits decimal digits.
func hotp(secret []byte, counter uint64) uint32 {
	var counterBytes [8]byte
	binary.BigEndian.PutUint64(counterBytes[:], counter)

	mac := hmac.New(sha1.New, secret)
	mac.Write(counterBytes[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	truncated := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7fffffff
	return truncated % totpMod[totpDigits]
}

// totpWindow returns the 2k+1 acceptable codes for unixTime: the
// current 30-second step plus k steps before and after, tolerating
// clock skew between the user's device and the server.
func totpWindow(secret []byte, unixTime int64, k int) []uint32 {
	counter := uint64(unixTime) / totpStep
	codes := make([]uint32, 0, 2*k+1)
	for i := -k; i <= k; i++ {
		c := counter
		if i < 0 {
			c -= uint64(-i)
		} else {
			c += uint64(i)
		}
		codes = append(codes, hotp(secret, c))
	}
	return codes
}
