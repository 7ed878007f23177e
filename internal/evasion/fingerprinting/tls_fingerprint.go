package fingerprinting

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/sirupsen/logrus"
)

// TLSFingerprinter dials TLS with a browser ClientHello instead of the Go
// default. Only used for direct egress; proxied routes keep the stock
// handshake.
type TLSFingerprinter struct {
	fingerprints map[string]utls.ClientHelloID
	logger       *logrus.Logger
	mu           sync.RWMutex
	handshakes   int64
	failures     int64
}

func NewTLSFingerprinter(logger *logrus.Logger) *TLSFingerprinter {
	if logger == nil {
		logger = logrus.New()
	}
	tf := &TLSFingerprinter{
		fingerprints: make(map[string]utls.ClientHelloID),
		logger:       logger,
	}
	tf.initializeFingerprints()
	return tf
}

func (tf *TLSFingerprinter) initializeFingerprints() {
	tf.fingerprints["chrome"] = utls.HelloChrome_Auto
	tf.fingerprints["firefox"] = utls.HelloFirefox_Auto
	tf.fingerprints["safari"] = utls.HelloSafari_Auto
	tf.fingerprints["edge"] = utls.HelloEdge_Auto
	tf.fingerprints["ios"] = utls.HelloIOS_Auto
	tf.fingerprints["random"] = utls.HelloRandomizedNoALPN
}

func (tf *TLSFingerprinter) GetFingerprint(name string) (utls.ClientHelloID, error) {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	if fp, ok := tf.fingerprints[strings.ToLower(name)]; ok {
		return fp, nil
	}
	return utls.ClientHelloID{}, fmt.Errorf("fingerprint not found: %s", name)
}

func (tf *TLSFingerprinter) GetFingerprintNames() []string {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	names := make([]string, 0, len(tf.fingerprints))
	for name := range tf.fingerprints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// http1Spec turns a browser preset into one that only offers http/1.1, since
// net/http cannot speak h2 over a non crypto/tls connection.
func http1Spec(id utls.ClientHelloID) (*utls.ClientHelloSpec, error) {
	spec, err := utls.UTLSIdToSpec(id)
	if err != nil {
		return nil, err
	}
	for _, ext := range spec.Extensions {
		if alpn, ok := ext.(*utls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
		}
	}
	return &spec, nil
}

func (tf *TLSFingerprinter) DialWithFingerprint(ctx context.Context, network, address, fingerprintName string) (net.Conn, error) {
	fp, err := tf.GetFingerprint(fingerprintName)
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("split address %s: %w", address, err)
	}

	var d net.Dialer
	if deadline, ok := ctx.Deadline(); ok {
		d.Timeout = time.Until(deadline)
	}
	rawConn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial failed: %w", err)
	}

	cfg := &utls.Config{ServerName: host}
	var uconn *utls.UConn
	if fp == utls.HelloRandomizedNoALPN {
		uconn = utls.UClient(rawConn, cfg, fp)
	} else {
		spec, err := http1Spec(fp)
		if err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("build client hello %s: %w", fingerprintName, err)
		}
		uconn = utls.UClient(rawConn, cfg, utls.HelloCustom)
		if err := uconn.ApplyPreset(spec); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("apply client hello %s: %w", fingerprintName, err)
		}
	}

	if err := uconn.HandshakeContext(ctx); err != nil {
		_ = rawConn.Close()
		tf.mu.Lock()
		tf.failures++
		tf.mu.Unlock()
		return nil, fmt.Errorf("utls handshake failed: %w", err)
	}
	tf.mu.Lock()
	tf.handshakes++
	tf.mu.Unlock()
	return uconn, nil
}

// Apply installs the fingerprinted dialer on a direct-egress transport.
func (tf *TLSFingerprinter) Apply(tr *http.Transport, fingerprintName string) error {
	if _, err := tf.GetFingerprint(fingerprintName); err != nil {
		return fmt.Errorf("%w (known: %s)", err, strings.Join(tf.GetFingerprintNames(), ", "))
	}
	tr.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		return tf.DialWithFingerprint(ctx, network, addr, fingerprintName)
	}
	tr.ForceAttemptHTTP2 = false
	tf.logger.Debugf("TLS fingerprint %s enabled for direct egress", fingerprintName)
	return nil
}

func (tf *TLSFingerprinter) GetFingerprintStats() map[string]interface{} {
	tf.mu.RLock()
	defer tf.mu.RUnlock()
	return map[string]interface{}{
		"total_fingerprints": len(tf.fingerprints),
		"handshakes":         tf.handshakes,
		"failures":           tf.failures,
	}
}
