// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package saslmechs_test

import (
	"strings"
	"testing"

	"mellium.im/sasl"

	"quetzal.im/xmpp/saslmechs"
)

func creds(user, pass string) sasl.Option {
	return sasl.Credentials(func() ([]byte, []byte, []byte) {
		return []byte(user), []byte(pass), nil
	})
}

func TestCramMD5Vector(t *testing.T) {
	// The worked example from RFC 2195 §2.
	neg := sasl.NewClient(saslmechs.CramMD5, creds("tim", "tanstaaftanstaaf"))

	more, resp, err := neg.Step(nil)
	if err != nil {
		t.Fatalf("unexpected error on start: %v", err)
	}
	if !more || len(resp) != 0 {
		t.Fatalf("CRAM-MD5 must wait for the server challenge, got more=%v resp=%q", more, resp)
	}

	more, resp, err = neg.Step([]byte("<1896.697170952@postoffice.reston.mci.net>"))
	if err != nil {
		t.Fatalf("unexpected error on challenge: %v", err)
	}
	if more {
		t.Errorf("CRAM-MD5 must finish after one response")
	}
	if want := "tim b913a602c7eda7a495b4e6e7334d3890"; string(resp) != want {
		t.Errorf("wrong response: want=%q, got=%q", want, resp)
	}
}

func TestDigestMD5Response(t *testing.T) {
	neg := sasl.NewClient(saslmechs.DigestMD5("example.org"), creds("romeo", "s3cr3t"))

	if _, _, err := neg.Step(nil); err != nil {
		t.Fatalf("unexpected error on start: %v", err)
	}

	challenge := `realm="example.org",nonce="OA6MG9tEQGm2hh",qop="auth",charset=utf-8,algorithm=md5-sess`
	more, resp, err := neg.Step([]byte(challenge))
	if err != nil {
		t.Fatalf("unexpected error on challenge: %v", err)
	}
	if !more {
		t.Errorf("DIGEST-MD5 must wait for rspauth after the first response")
	}
	out := string(resp)
	for _, want := range []string{
		`username="romeo"`,
		`realm="example.org"`,
		`nonce="OA6MG9tEQGm2hh"`,
		`nc=00000001`,
		`qop=auth`,
		`digest-uri="xmpp/example.org"`,
		`charset=utf-8`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("response missing %q: %s", want, out)
		}
	}
}

func TestDigestMD5BadRspauth(t *testing.T) {
	neg := sasl.NewClient(saslmechs.DigestMD5("example.org"), creds("romeo", "s3cr3t"))
	if _, _, err := neg.Step(nil); err != nil {
		t.Fatalf("unexpected error on start: %v", err)
	}
	if _, _, err := neg.Step([]byte(`nonce="abc",qop="auth"`)); err != nil {
		t.Fatalf("unexpected error on challenge: %v", err)
	}
	if _, _, err := neg.Step([]byte(`rspauth=deadbeef`)); err == nil {
		t.Errorf("expected an error for a forged rspauth")
	}
}
