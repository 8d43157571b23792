package flipper_test

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Danalla/flipper/pkg/agent"
	"github.com/Danalla/flipper/pkg/cred"
	"github.com/Danalla/flipper/pkg/transport"
	"github.com/Danalla/flipper/pkg/wire"
)

// End-to-end tests running the agent over real TCP and TLS sockets against
// an in-process desktop tool that signs CSRs and speaks the frame protocol.

// signMode selects how the in-process desktop answers signing requests.
type signMode int

const (
	// signModeDirect answers the signCertificate request with the signed
	// certificate in the response body.
	signModeDirect signMode = iota

	// signModeLegacy rejects the request with "not implemented" and signs
	// via the fire-and-forget fallback, writing the certificate files into
	// the request's destination directory itself.
	signModeLegacy
)

// testCA is a throwaway provisioning CA.
type testCA struct {
	cert  *x509.Certificate
	key   *ecdsa.PrivateKey
	caPEM []byte
}

func newTestCA(t *testing.T) *testCA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Flipper Test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &testCA{
		cert:  cert,
		key:   key,
		caPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}
}

// signCSR verifies and signs a PEM-encoded certificate signing request,
// returning a PEM-encoded client certificate.
func (ca *testCA) signCSR(csrPEM string) ([]byte, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in CSR")
	}
	req, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, err
	}
	if err := req.CheckSignature(); err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      req.Subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, req.PublicKey, ca.key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), nil
}

// issueServerCert issues the desktop tool's TLS serving certificate.
func (ca *testCA) issueServerCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "desktop"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	pair, err := tls.X509KeyPair(
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	)
	require.NoError(t, err)
	return pair
}

// desktopConn serializes writes to one accepted connection.
type desktopConn struct {
	mu     sync.Mutex
	conn   net.Conn
	framer *transport.Framer
}

func (c *desktopConn) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.framer.WriteFrame(data)
}

// testDesktop is an in-process stand-in for the desktop tool: a plaintext
// provisioning listener that signs CSRs and a mutual-TLS listener that
// accepts provisioned devices.
type testDesktop struct {
	ca   *testCA
	mode signMode

	insecureLn net.Listener
	secureLn   net.Listener

	insecureHandshakes chan wire.HandshakeInfo
	secureHandshakes   chan wire.HandshakeInfo
	deviceMessages     chan json.RawMessage

	mu      sync.Mutex
	current *desktopConn
}

func newTestDesktop(t *testing.T, mode signMode) *testDesktop {
	t.Helper()

	ca := newTestCA(t)

	insecureLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	clientCAs := x509.NewCertPool()
	require.True(t, clientCAs.AppendCertsFromPEM(ca.caPEM))
	tlsConf := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{ca.issueServerCert(t)},
		ClientCAs:    clientCAs,
		ClientAuth:   tls.RequireAndVerifyClientCert,
	}
	secureLn, err := tls.Listen("tcp", "127.0.0.1:0", tlsConf)
	require.NoError(t, err)

	d := &testDesktop{
		ca:                 ca,
		mode:               mode,
		insecureLn:         insecureLn,
		secureLn:           secureLn,
		insecureHandshakes: make(chan wire.HandshakeInfo, 8),
		secureHandshakes:   make(chan wire.HandshakeInfo, 8),
		deviceMessages:     make(chan json.RawMessage, 8),
	}
	t.Cleanup(func() {
		insecureLn.Close()
		secureLn.Close()
	})

	go d.acceptLoop(insecureLn, d.serveInsecure)
	go d.acceptLoop(secureLn, d.serveSecure)
	return d
}

func (d *testDesktop) insecurePort() int {
	return d.insecureLn.Addr().(*net.TCPAddr).Port
}

func (d *testDesktop) securePort() int {
	return d.secureLn.Addr().(*net.TCPAddr).Port
}

func (d *testDesktop) acceptLoop(ln net.Listener, serve func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serve(conn)
	}
}

// readHandshake consumes the first frame of a connection.
func readHandshake(framer *transport.Framer) (wire.HandshakeInfo, bool) {
	frame, err := framer.ReadFrame()
	if err != nil {
		return wire.HandshakeInfo{}, false
	}
	env, err := wire.DecodeEnvelope(frame)
	if err != nil || env.Kind != wire.KindFireAndForget {
		return wire.HandshakeInfo{}, false
	}
	var hs wire.HandshakeInfo
	if err := json.Unmarshal(env.Body, &hs); err != nil {
		return wire.HandshakeInfo{}, false
	}
	return hs, true
}

func (d *testDesktop) serveInsecure(conn net.Conn) {
	defer conn.Close()
	c := &desktopConn{conn: conn, framer: transport.NewFramer(conn)}

	hs, ok := readHandshake(c.framer)
	if !ok {
		return
	}
	d.insecureHandshakes <- hs

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			return
		}
		env, err := wire.DecodeEnvelope(frame)
		if err != nil {
			continue
		}

		switch env.Kind {
		case wire.KindPing:
			data, err := wire.EncodeEnvelope(&wire.Envelope{Kind: wire.KindPong, ID: env.ID})
			if err == nil {
				_ = c.write(data)
			}

		case wire.KindRequest:
			var req wire.SignCertificateRequest
			if err := json.Unmarshal(env.Body, &req); err != nil || req.Method != wire.SignCertificateMethod {
				if data, err := wire.EncodeError(env.ID, "unknown method"); err == nil {
					_ = c.write(data)
				}
				continue
			}
			d.answerSigning(c, env.ID, req)

		case wire.KindFireAndForget:
			// The legacy fallback re-sends the signing request without
			// expecting a reply; any legacy desktop writes the files itself.
			var req wire.SignCertificateRequest
			if err := json.Unmarshal(env.Body, &req); err == nil && req.Method == wire.SignCertificateMethod {
				_ = d.writeCertificates(req)
			}
		}
	}
}

func (d *testDesktop) answerSigning(c *desktopConn, id uint64, req wire.SignCertificateRequest) {
	if d.mode == signModeLegacy {
		if data, err := wire.EncodeError(id, wire.NotImplementedMessage); err == nil {
			_ = c.write(data)
		}
		return
	}

	certPEM, err := d.ca.signCSR(req.CSR)
	if err != nil {
		if data, encErr := wire.EncodeError(id, err.Error()); encErr == nil {
			_ = c.write(data)
		}
		return
	}
	data, err := wire.EncodeResponse(id, wire.SignCertificateResponse{
		Certificate:   string(certPEM),
		CACertificate: string(d.ca.caPEM),
	})
	if err == nil {
		_ = c.write(data)
	}
}

// writeCertificates signs the CSR and drops the files into the request's
// destination directory, the way the legacy desktop provisions over USB.
func (d *testDesktop) writeCertificates(req wire.SignCertificateRequest) error {
	certPEM, err := d.ca.signCSR(req.CSR)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(req.Destination, cred.ClientCertFileName), certPEM, 0644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(req.Destination, cred.CAFileName), d.ca.caPEM, 0644)
}

func (d *testDesktop) serveSecure(conn net.Conn) {
	defer conn.Close()
	c := &desktopConn{conn: conn, framer: transport.NewFramer(conn)}

	hs, ok := readHandshake(c.framer)
	if !ok {
		return
	}

	d.mu.Lock()
	d.current = c
	d.mu.Unlock()
	d.secureHandshakes <- hs

	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			d.mu.Lock()
			if d.current == c {
				d.current = nil
			}
			d.mu.Unlock()
			return
		}
		env, err := wire.DecodeEnvelope(frame)
		if err != nil {
			continue
		}

		switch env.Kind {
		case wire.KindPing:
			data, err := wire.EncodeEnvelope(&wire.Envelope{Kind: wire.KindPong, ID: env.ID})
			if err == nil {
				_ = c.write(data)
			}
		case wire.KindFireAndForget:
			d.deviceMessages <- env.Body
		}
	}
}

// sendToDevice pushes a fire-and-forget message down the active secure
// session.
func (d *testDesktop) sendToDevice(t *testing.T, body any) {
	t.Helper()

	d.mu.Lock()
	c := d.current
	d.mu.Unlock()
	require.NotNil(t, c, "no secure session established")

	data, err := wire.EncodeFireAndForget(body)
	require.NoError(t, err)
	require.NoError(t, c.write(data))
}

// dropSecure closes the active secure session from the desktop side.
func (d *testDesktop) dropSecure(t *testing.T) {
	t.Helper()

	d.mu.Lock()
	c := d.current
	d.current = nil
	d.mu.Unlock()
	require.NotNil(t, c, "no secure session established")
	c.conn.Close()
}

// sessionRecorder counts trusted-session callbacks.
type sessionRecorder struct {
	mu           sync.Mutex
	connected    int
	disconnected int
	messages     []string
}

func (r *sessionRecorder) OnConnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected++
}

func (r *sessionRecorder) OnDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *sessionRecorder) OnMessageReceived(body json.RawMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, string(body))
}

func (r *sessionRecorder) counts() (connected, disconnected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected, r.disconnected
}

func (r *sessionRecorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func newE2EAgent(t *testing.T, desktop *testDesktop, recorder *sessionRecorder) (*agent.Agent, cred.Store) {
	t.Helper()

	store := cred.NewFileStore(t.TempDir())
	a, err := agent.NewAgent(agent.Config{
		Identity: agent.DeviceIdentity{
			Host:     "127.0.0.1",
			OS:       "TestOS",
			Device:   "TestDevice",
			DeviceID: "device-e2e",
			App:      "com.example.flipper",
		},
		Store:             store,
		Dialer:            agent.NewDialer(transport.NewDialer(transport.DialerConfig{})),
		Callbacks:         recorder,
		ReconnectInterval: 50 * time.Millisecond,
		SecurePort:        desktop.securePort(),
		InsecurePort:      desktop.insecurePort(),
	})
	require.NoError(t, err)
	t.Cleanup(a.Stop)
	return a, store
}

// recv waits for one value on a handshake channel.
func recv(t *testing.T, ch chan wire.HandshakeInfo) wire.HandshakeInfo {
	t.Helper()
	select {
	case hs := <-ch:
		return hs
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for handshake")
		return wire.HandshakeInfo{}
	}
}

func TestE2E_ProvisionThenSecureSession(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	desktop := newTestDesktop(t, signModeDirect)
	recorder := &sessionRecorder{}
	a, store := newE2EAgent(t, desktop, recorder)

	a.Start()

	// The provisioning handshake withholds the device ID.
	hs := recv(t, desktop.insecureHandshakes)
	assert.Empty(t, hs.DeviceID)
	assert.Equal(t, "com.example.flipper", hs.App)

	require.Eventually(t, a.IsOpen, 10*time.Second, 10*time.Millisecond)

	// The trusted handshake carries it.
	shs := recv(t, desktop.secureHandshakes)
	assert.Equal(t, "device-e2e", shs.DeviceID)

	// All three credential files landed in the store.
	for _, name := range []string{cred.CAFileName, cred.ClientCertFileName, cred.PrivateKeyFileName} {
		data, err := store.ReadAll(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, data, name)
	}

	// Messages flow both ways on the trusted session.
	desktop.sendToDevice(t, map[string]string{"op": "screenshot"})
	require.Eventually(t, func() bool {
		return len(recorder.received()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.JSONEq(t, `{"op":"screenshot"}`, recorder.received()[0])

	a.SendMessage(map[string]string{"status": "ok"})
	select {
	case raw := <-desktop.deviceMessages:
		assert.JSONEq(t, `{"status":"ok"}`, string(raw))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for device message")
	}

	// The desktop dropping the link restarts the cycle without another
	// provisioning pass.
	desktop.dropSecure(t)
	require.Eventually(t, func() bool {
		connected, disconnected := recorder.counts()
		return connected == 2 && disconnected == 1
	}, 10*time.Second, 10*time.Millisecond)

	shs = recv(t, desktop.secureHandshakes)
	assert.Equal(t, "device-e2e", shs.DeviceID)
}

func TestE2E_LegacyDesktopFallback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	desktop := newTestDesktop(t, signModeLegacy)
	recorder := &sessionRecorder{}
	a, _ := newE2EAgent(t, desktop, recorder)

	a.Start()

	// The legacy desktop rejects the request, receives the fallback send,
	// and writes the certificate files itself; the agent's next pass finds
	// a complete bundle and comes back on the secure port.
	require.Eventually(t, a.IsOpen, 10*time.Second, 10*time.Millisecond)

	shs := recv(t, desktop.secureHandshakes)
	assert.Equal(t, "device-e2e", shs.DeviceID)

	connected, _ := recorder.counts()
	assert.Equal(t, 1, connected)
}
