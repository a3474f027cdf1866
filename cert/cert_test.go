// Copyright 2024 The Armored Witness authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cert

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/transparency-dev/armored-witness-dice/fatal"
)

func testCert(t *testing.T) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	tcb := &TcbInfo{
		Vendor: "Armored Witness",
		SVN:    3,
		Layer:  1,
		Fwids:  []Fwid{{HashAlg: OIDSHA256, Digest: bytes.Repeat([]byte{0xab}, 32)}},
	}
	ext, err := tcb.Extension()
	if err != nil {
		t.Fatalf("Extension: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:    big.NewInt(42),
		Subject:         pkix.Name{CommonName: "FMC Alias"},
		NotBefore:       time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:        time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtraExtensions:       []pkix.Extension{ext},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}

	c, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}

	return c
}

func TestBuildSplice(t *testing.T) {
	c := testCert(t)

	sig, err := ParseSignature(c.Signature)
	if err != nil {
		t.Fatalf("ParseSignature: %v", err)
	}

	out := make([]byte, 1024)

	n, err := Build(c.RawTBSCertificate, sig, out)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if diff := cmp.Diff(c.Raw, out[:n]); diff != "" {
		t.Fatalf("Got diff: %s", diff)
	}

	// repeated builds are byte identical
	again := make([]byte, n)
	if m, err := Build(c.RawTBSCertificate, sig, again); err != nil || m != n || !bytes.Equal(again, out[:n]) {
		t.Fatalf("second build differs (%d bytes, %v)", m, err)
	}

	parsed, err := x509.ParseCertificate(out[:n])
	if err != nil {
		t.Fatalf("ParseCertificate: %v", err)
	}
	if err := parsed.CheckSignatureFrom(c); err != nil {
		t.Fatalf("CheckSignatureFrom: %v", err)
	}

	tcb, ok := ParseTcbInfo(parsed.Extensions)
	if !ok || tcb.SVN != 3 || tcb.Layer != 1 {
		t.Fatalf("Got TCB info %+v", tcb)
	}
}

func TestBuildErrors(t *testing.T) {
	c := testCert(t)

	sig, err := ParseSignature(c.Signature)
	if err != nil {
		t.Fatal(err)
	}

	b, err := NewBuilder(c.RawTBSCertificate, sig)
	if err != nil {
		t.Fatal(err)
	}
	n, err := b.Len()
	if err != nil {
		t.Fatal(err)
	}

	for _, test := range []struct {
		name string
		tbs  []byte
		sig  Signature
		out  int
	}{
		{
			name: "undersized buffer",
			tbs:  c.RawTBSCertificate,
			sig:  sig,
			out:  n - 1,
		}, {
			name: "empty buffer",
			tbs:  c.RawTBSCertificate,
			sig:  sig,
		}, {
			name: "truncated template",
			tbs:  c.RawTBSCertificate[:len(c.RawTBSCertificate)-1],
			sig:  sig,
			out:  n,
		}, {
			name: "trailing template data",
			tbs:  append(append([]byte{}, c.RawTBSCertificate...), 0),
			sig:  sig,
			out:  n + 1,
		}, {
			name: "missing signature",
			tbs:  c.RawTBSCertificate,
			out:  n,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			out := make([]byte, test.out)

			got, err := Build(test.tbs, test.sig, out)
			if fatal.CodeOf(err) != fatal.RuntimeInsufficientMemory {
				t.Fatalf("Got %v, want insufficient memory", err)
			}
			if got != 0 {
				t.Fatalf("Got length %d on error", got)
			}
			if !bytes.Equal(out, make([]byte, test.out)) {
				t.Fatal("output written on error")
			}
		})
	}
}

func TestParseSignature(t *testing.T) {
	for _, test := range []struct {
		name    string
		sig     Signature
		wantErr bool
	}{
		{
			name: "leading zeroes",
			sig:  Signature{R: [32]byte{31: 1}, S: [32]byte{0x80}},
		}, {
			name: "full width",
			sig:  Signature{R: [32]byte{0xff, 31: 0xff}, S: [32]byte{0x7f, 31: 1}},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			got, err := ParseSignature(test.sig.ASN1())
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("Got %v, wantErr %t", err, test.wantErr)
			}
			if diff := cmp.Diff(test.sig, got); diff != "" {
				t.Fatalf("Got diff: %s", diff)
			}
		})
	}

	if _, err := ParseSignature([]byte{0x30, 0x00}); err == nil {
		t.Fatal("empty sequence accepted")
	}
}
