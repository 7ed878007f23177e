package fingerprinting

import (
	"net/http"
	"strings"
	"testing"

	utls "github.com/refraction-networking/utls"
)

func TestApplyInstallsDialer(t *testing.T) {
	tf := NewTLSFingerprinter(nil)
	tr := &http.Transport{}
	if err := tf.Apply(tr, "chrome"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if tr.DialTLSContext == nil {
		t.Fatal("DialTLSContext not installed")
	}
	err := tf.Apply(&http.Transport{}, "netscape")
	if err == nil {
		t.Fatal("unknown fingerprint accepted")
	}
	if !strings.Contains(err.Error(), "chrome, edge, firefox, ios, random, safari") {
		t.Errorf("error does not list known fingerprints: %v", err)
	}
}

func TestHTTP1SpecStripsH2(t *testing.T) {
	spec, err := http1Spec(mustFingerprint(t, "firefox"))
	if err != nil {
		t.Fatalf("http1Spec: %v", err)
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			if len(alpn.AlpnProtocols) != 1 || alpn.AlpnProtocols[0] != "http/1.1" {
				t.Errorf("ALPN = %v", alpn.AlpnProtocols)
			}
		}
	}
}

func mustFingerprint(t *testing.T, name string) utls.ClientHelloID {
	t.Helper()
	fp, err := NewTLSFingerprinter(nil).GetFingerprint(name)
	if err != nil {
		t.Fatal(err)
	}
	return fp
}
