package utils

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strconv"

	"github.com/zeebo/xxh3"
)

// MD5Hex and SHA1Hex exist for reproducing the digests that leaked
// password dumps are published with, not for protecting anything.
func MD5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func SHA1Hex(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ContentHash is a fast non-cryptographic fingerprint used for dedup and
// cache integrity checks.
func ContentHash(data []byte) string {
	return strconv.FormatUint(xxh3.Hash(data), 16)
}

func MaskSensitiveData(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}

// MaskURLSecrets masks every query value and any userinfo password so a
// URL can be logged.
func MaskURLSecrets(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	q := u.Query()
	if len(q) == 0 {
		return u.String()
	}
	for k, vs := range q {
		for i := range vs {
			vs[i] = MaskSensitiveData(vs[i])
		}
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String()
}
