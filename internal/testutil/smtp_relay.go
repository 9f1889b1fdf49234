package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

const (
	RelayUsername = "sender@example.com"
	RelayPassword = "relay-secret"
)

// Delivery is one message accepted by the relay.
type Delivery struct {
	From         string
	To           []string
	Data         []byte
	Username     string
	Mechanism    string
	AuthUnderTLS bool
}

// SMTPRelay is an in-process submission server for tests. It offers STARTTLS
// with a self-signed certificate for 127.0.0.1 and only advertises AUTH once
// the session is encrypted.
type SMTPRelay struct {
	Host    string
	Port    int
	CertPEM []byte

	username string
	password string
	mechs    []string
	gate     *dataGate

	mu         sync.Mutex
	deliveries []Delivery
	conns      atomic.Int64
}

type relayOptions struct {
	startTLS bool
	username string
	password string
	mechs    []string
	gate     *dataGate
}

type dataGate struct {
	entered chan<- struct{}
	release <-chan struct{}
}

// RelayOption adjusts NewSMTPRelay.
type RelayOption func(*relayOptions)

// WithoutSTARTTLS starts a relay that never offers STARTTLS.
func WithoutSTARTTLS() RelayOption {
	return func(o *relayOptions) {
		o.startTLS = false
	}
}

// WithCredentials overrides the accepted username and password.
func WithCredentials(username, password string) RelayOption {
	return func(o *relayOptions) {
		o.username = username
		o.password = password
	}
}

// WithAuthMechanisms replaces the advertised AUTH mechanisms. Only PLAIN and
// LOGIN are understood. With no arguments the relay advertises no AUTH at all.
func WithAuthMechanisms(mechs ...string) RelayOption {
	return func(o *relayOptions) {
		o.mechs = mechs
	}
}

// WithDataGate holds every DATA command after the message body has been read:
// the relay signals entered, then waits for release before rejecting the
// message. Nothing is recorded as delivered.
func WithDataGate(entered chan<- struct{}, release <-chan struct{}) RelayOption {
	return func(o *relayOptions) {
		o.gate = &dataGate{entered: entered, release: release}
	}
}

// NewSMTPRelay starts a relay on a random loopback port. It is shut down by
// t.Cleanup.
func NewSMTPRelay(t testing.TB, opts ...RelayOption) *SMTPRelay {
	t.Helper()

	o := relayOptions{
		startTLS: true,
		username: RelayUsername,
		password: RelayPassword,
		mechs:    []string{sasl.Plain},
	}
	for _, opt := range opts {
		opt(&o)
	}

	certPEM, cert := selfSignedCert(t)
	r := &SMTPRelay{
		Host:     "127.0.0.1",
		CertPEM:  certPEM,
		username: o.username,
		password: o.password,
		mechs:    o.mechs,
		gate:     o.gate,
	}

	s := smtp.NewServer(&relayBackend{relay: r})
	s.Domain = "localhost"
	s.ReadTimeout = 10 * time.Second
	s.WriteTimeout = 10 * time.Second
	if o.startTLS {
		s.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	} else {
		s.AllowInsecureAuth = true
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	r.Port = l.Addr().(*net.TCPAddr).Port

	go func() {
		_ = s.Serve(&countingListener{Listener: l, n: &r.conns})
	}()
	t.Cleanup(func() {
		_ = s.Close()
	})
	return r
}

// Deliveries returns a copy of the accepted messages.
func (r *SMTPRelay) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Connections reports how many TCP connections the relay has accepted.
func (r *SMTPRelay) Connections() int {
	return int(r.conns.Load())
}

// ClientTLSConfig trusts the relay certificate.
func (r *SMTPRelay) ClientTLSConfig() *tls.Config {
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(r.CertPEM)
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
}

// CAFile writes the relay certificate to a PEM file under t.TempDir.
func (r *SMTPRelay) CAFile(t testing.TB) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay-ca.pem")
	if err := os.WriteFile(path, r.CertPEM, 0o600); err != nil {
		t.Fatalf("write CA file: %v", err)
	}
	return path
}

func (r *SMTPRelay) deliver(d Delivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

// UnusedAddr returns a loopback host and port with nothing listening on it.
func UnusedAddr(t testing.TB) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return "127.0.0.1", port
}

type countingListener struct {
	net.Listener
	n *atomic.Int64
}

func (l *countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err == nil {
		l.n.Add(1)
	}
	return c, err
}

type relayBackend struct {
	relay *SMTPRelay
}

func (b *relayBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	return &relaySession{relay: b.relay, conn: c}, nil
}

type relaySession struct {
	relay *SMTPRelay
	conn  *smtp.Conn

	username     string
	mechanism    string
	authUnderTLS bool
	from         string
	to           []string
}

func (s *relaySession) AuthMechanisms() []string {
	return s.relay.mechs
}

func (s *relaySession) Auth(mech string) (sasl.Server, error) {
	check := func(username, password string) error {
		if username != s.relay.username || password != s.relay.password {
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "Authentication credentials invalid",
			}
		}
		s.username = username
		s.mechanism = mech
		_, s.authUnderTLS = s.conn.TLSConnectionState()
		return nil
	}

	switch mech {
	case sasl.Plain:
		return sasl.NewPlainServer(func(identity, username, password string) error {
			return check(username, password)
		}), nil
	case sasl.Login:
		return sasl.NewLoginServer(check), nil
	}
	return nil, smtp.ErrAuthUnknownMechanism
}

func (s *relaySession) Mail(from string, opts *smtp.MailOptions) error {
	if s.username == "" {
		return &smtp.SMTPError{
			Code:         530,
			EnhancedCode: smtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, opts *smtp.RcptOptions) error {
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if g := s.relay.gate; g != nil {
		g.entered <- struct{}{}
		<-g.release
		return errors.New("relay: message held and dropped")
	}
	s.relay.deliver(Delivery{
		From:         s.from,
		To:           append([]string(nil), s.to...),
		Data:         data,
		Username:     s.username,
		Mechanism:    s.mechanism,
		AuthUnderTLS: s.authUnderTLS,
	})
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error {
	return nil
}

func selfSignedCert(t testing.TB) ([]byte, tls.Certificate) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "mail-sender test relay"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatalf("load key pair: %v", err)
	}
	return certPEM, cert
}
