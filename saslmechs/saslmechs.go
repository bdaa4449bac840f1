// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Package saslmechs provides the legacy CRAM-MD5 and DIGEST-MD5 mechanisms
// in the shape used by mellium.im/sasl, for servers that do not offer
// SCRAM-SHA-1 or PLAIN.
package saslmechs // import "quetzal.im/xmpp/saslmechs"

import (
	"bytes"
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"mellium.im/sasl"
)

// ErrBadChallenge is returned when the server challenge cannot be parsed or
// fails verification.
var ErrBadChallenge = errors.New("saslmechs: bad server challenge")

// CramMD5 implements the CRAM-MD5 challenge/response mechanism of RFC 2195.
var CramMD5 = sasl.Mechanism{
	Name: "CRAM-MD5",
	Start: func(_ *sasl.Negotiator) (bool, []byte, interface{}, error) {
		// The server issues the first challenge.
		return true, nil, nil, nil
	},
	Next: func(m *sasl.Negotiator, challenge []byte, _ interface{}) (bool, []byte, interface{}, error) {
		if len(challenge) == 0 {
			return false, nil, nil, ErrBadChallenge
		}
		username, password, _ := m.Credentials()
		mac := hmac.New(md5.New, password)
		mac.Write(challenge)
		digest := hex.EncodeToString(mac.Sum(nil))
		resp := make([]byte, 0, len(username)+1+len(digest))
		resp = append(resp, username...)
		resp = append(resp, ' ')
		resp = append(resp, digest...)
		return false, resp, nil, nil
	},
}

// DigestMD5 returns the DIGEST-MD5 mechanism of RFC 2831 for the given
// service host. The host is needed for the digest-uri directive and cannot
// be recovered from the negotiator's credentials.
func DigestMD5(host string) sasl.Mechanism {
	return sasl.Mechanism{
		Name: "DIGEST-MD5",
		Start: func(_ *sasl.Negotiator) (bool, []byte, interface{}, error) {
			return true, nil, nil, nil
		},
		Next: func(m *sasl.Negotiator, challenge []byte, data interface{}) (bool, []byte, interface{}, error) {
			directives := parseDirectives(challenge)

			// The second challenge carries only the rspauth confirmation.
			if rspauth, ok := directives["rspauth"]; ok {
				expect, _ := data.(string)
				if expect == "" || rspauth != expect {
					return false, nil, nil, ErrBadChallenge
				}
				return false, nil, nil, nil
			}

			nonce, ok := directives["nonce"]
			if !ok {
				return false, nil, nil, ErrBadChallenge
			}
			realm := directives["realm"]
			if realm == "" {
				realm = host
			}
			qop := "auth"
			cnonce := hex.EncodeToString(m.Nonce())
			const nc = "00000001"
			uri := "xmpp/" + host

			username, password, authzid := m.Credentials()

			a1 := md5.Sum([]byte(fmt.Sprintf("%s:%s:%s", username, realm, password)))
			ha1in := bytes.NewBuffer(a1[:])
			fmt.Fprintf(ha1in, ":%s:%s", nonce, cnonce)
			if len(authzid) > 0 {
				fmt.Fprintf(ha1in, ":%s", authzid)
			}
			ha1 := hexMD5(ha1in.Bytes())
			ha2 := hexMD5([]byte("AUTHENTICATE:" + uri))
			response := hexMD5([]byte(strings.Join([]string{ha1, nonce, nc, cnonce, qop, ha2}, ":")))

			// Expected value of the rspauth directive: same digest with an
			// empty A2 method part.
			rspHA2 := hexMD5([]byte(":" + uri))
			rspauth := hexMD5([]byte(strings.Join([]string{ha1, nonce, nc, cnonce, qop, rspHA2}, ":")))

			var resp bytes.Buffer
			fmt.Fprintf(&resp, `username="%s",realm="%s",nonce="%s",cnonce="%s",nc=%s,qop=%s,digest-uri="%s",response=%s,charset=utf-8`,
				username, realm, nonce, cnonce, nc, qop, uri, response)
			if len(authzid) > 0 {
				fmt.Fprintf(&resp, `,authzid="%s"`, authzid)
			}
			return true, resp.Bytes(), rspauth, nil
		},
	}
}

func hexMD5(p []byte) string {
	sum := md5.Sum(p)
	return hex.EncodeToString(sum[:])
}

// parseDirectives splits a DIGEST-MD5 challenge of the form
// key1="value",key2=value into a map. Quoted commas are respected.
func parseDirectives(challenge []byte) map[string]string {
	out := make(map[string]string)
	s := string(challenge)
	var inQuote bool
	start := 0
	fields := make([]string, 0, 8)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	for _, f := range fields {
		eq := strings.IndexByte(f, '=')
		if eq < 0 {
			continue
		}
		key := strings.TrimSpace(f[:eq])
		val := strings.TrimSpace(f[eq+1:])
		val = strings.Trim(val, `"`)
		out[key] = val
	}
	return out
}
