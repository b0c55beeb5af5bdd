// Package service is the public entry point for Thread commissioning:
// discover a border router, connect with the user's admin code, retrieve
// the Active Operational Dataset, close. It wires the discovery browser,
// the secure transport and the commissioner state machine together the
// way a host application consumes them.
package service

import (
	"time"

	"github.com/thread-tools/meshcop-go/pkg/commissioner"
	"github.com/thread-tools/meshcop-go/pkg/discovery"
	"github.com/thread-tools/meshcop-go/pkg/dtls"
	"github.com/thread-tools/meshcop-go/pkg/log"
	"github.com/thread-tools/meshcop-go/pkg/meshcop"
)

// Config configures the commissioning service.
type Config struct {
	// Browser finds border routers. Nil creates an MDNSBrowser on all
	// interfaces.
	Browser discovery.Browser

	// Interface restricts discovery to one network interface.
	// Ignored when Browser is set.
	Interface string

	// CommissionerID is the name sent in the petition.
	CommissionerID string

	// Logger receives protocol events from every layer.
	Logger log.Logger

	// LogLevel thresholds secure-transport debug events.
	LogLevel log.Level

	// ReadTimeout is the transport's per-record read timeout.
	ReadTimeout time.Duration

	// Transport overrides the secure session, for tests.
	Transport commissioner.Transport
}

// Service drives commissioning attempts. One attempt is active at a
// time; a new ConnectToHub starts a fresh session.
type Service struct {
	cfg     Config
	browser discovery.Browser

	session *dtls.Session
	comm    *commissioner.Commissioner
}

// New creates a commissioning service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = log.NoopLogger{}
	}

	browser := cfg.Browser
	if browser == nil {
		browser = discovery.NewMDNSBrowser(discovery.BrowserConfig{Interface: cfg.Interface})
	}

	return &Service{cfg: cfg, browser: browser}
}

// SearchForHub races discovery against a deadline. A timeout of zero or
// less waits indefinitely. Returns discovery.ErrNotFound on expiry.
func (s *Service) SearchForHub(timeoutSeconds float64) (*discovery.ThreadHub, error) {
	timeout := time.Duration(timeoutSeconds * float64(time.Second))

	hub, err := discovery.SearchForHub(s.browser, timeout)
	if err != nil {
		return nil, err
	}
	return &hub, nil
}

// ConnectToHub establishes the secure session to the hub using the
// user-entered admin code. Any previous attempt is closed first.
func (s *Service) ConnectToHub(hub discovery.ThreadHub, adminCode string) error {
	s.teardown()

	transport := s.cfg.Transport
	if transport == nil {
		session := dtls.NewSession(dtls.Config{
			ReadTimeout: s.cfg.ReadTimeout,
			Logger:      s.cfg.Logger,
			LogLevel:    s.cfg.LogLevel,
		})
		s.session = session
		transport = session
	}

	s.comm = commissioner.New(commissioner.Config{
		Transport:      transport,
		CommissionerID: s.cfg.CommissionerID,
		Logger:         s.cfg.Logger,
	})

	return s.comm.Connect(hub, adminCode)
}

// GetThreadDataset petitions for the active commissioner role and
// requests the Active Operational Dataset.
func (s *Service) GetThreadDataset() (*meshcop.Dataset, error) {
	if s.comm == nil {
		return nil, commissioner.ErrNotConnected
	}
	return s.comm.GetActiveDataset()
}

// Close tears down the current attempt and stops discovery. Idempotent.
func (s *Service) Close() error {
	s.browser.Stop()
	return s.teardown()
}

// SetDTLSLoggingLevel adjusts the transport debug threshold, applying to
// the active session and any future one.
func (s *Service) SetDTLSLoggingLevel(level log.Level) {
	s.cfg.LogLevel = level
	if s.session != nil {
		s.session.SetLogLevel(level)
	}
}

// teardown closes the active attempt, if any.
func (s *Service) teardown() error {
	if s.comm == nil {
		return nil
	}
	err := s.comm.Close()
	s.comm = nil
	s.session = nil
	return err
}
