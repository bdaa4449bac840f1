// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package form

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
)

// Reserved field names used by signed forms.
const (
	SignatureKeyVar = "signature-key"
	SignatureVar    = "signature"
)

// Sign appends a signature over the form's submitted values. The signature
// is an HMAC-SHA1 with the shared secret over the sorted var=value pairs,
// so the receiver can verify that the submission originates from a holder
// of the secret identified by key.
func (d *Data) Sign(key, secret string) {
	d.Set(SignatureKeyVar, key)
	d.Set(SignatureVar, signature(d, secret))
}

// Verify checks a previously signed form against the shared secret and
// returns the signing key on success.
func (d *Data) Verify(secret string) (key string, ok bool) {
	key, keyOK := d.Get(SignatureKeyVar)
	sig, sigOK := d.Get(SignatureVar)
	if !keyOK || !sigOK {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(signature(d, secret))) {
		return "", false
	}
	return key, true
}

func signature(d *Data, secret string) string {
	pairs := make([]string, 0, len(d.Fields))
	for _, f := range d.Fields {
		if f.Var == "" || f.Var == SignatureVar {
			continue
		}
		pairs = append(pairs, f.Var+"="+strings.Join(f.Values, ","))
	}
	sort.Strings(pairs)
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}
