// Copyright 2026 The Quetzal Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package xmpp

import (
	"errors"
	"time"
)

// Default values applied by Config.withDefaults.
const (
	DefaultPort                = 5222
	DefaultKeepAlive           = 30 * time.Second
	DefaultRetryTimeout        = 2 * time.Second
	DefaultNrRetries           = 5
	DefaultMaxAssuredPerSource = 5
	DefaultMaxAssuredTotal     = 100
)

// Config carries the options of a Session. Host and User are required;
// everything else has a usable zero value or a documented default.
type Config struct {
	// Host and Port name the server to connect to. Port defaults to 5222.
	Host string
	Port int

	// User is the localpart to authenticate as.
	User string

	// Password is the account password. PasswordHash and HashMethod are
	// stored with the account settings and cleared by ChangePassword; SASL
	// authentication does not read them and always uses Password.
	Password     string
	PasswordHash string
	HashMethod   string

	// Lang is the preferred stream language (xml:lang on the preamble).
	Lang string

	// TrustServer accepts the server certificate even when policy
	// validation fails.
	TrustServer bool

	// Permitted SASL mechanisms. The selection priority among the permitted
	// set is SCRAM-SHA-1, DIGEST-MD5, CRAM-MD5, PLAIN.
	AllowPlain     bool
	AllowCramMD5   bool
	AllowDigestMD5 bool
	AllowScramSHA1 bool

	// Resource is the preferred resource for binding; when empty the server
	// assigns one.
	Resource string

	// KeepAlive is the whitespace keep-alive period. A single space is
	// transmitted every KeepAlive/2. Defaults to 30s.
	KeepAlive time.Duration

	// Defaults for the IQ retry engine, used when SendIQ is invoked with a
	// zero RetryPolicy.
	DefaultRetryTimeout    time.Duration // 2s
	DefaultNrRetries       int           // 5
	DefaultDropOff         *bool         // true: double the interval per retry
	DefaultMaxRetryTimeout time.Duration // 0 = unbounded

	// Admission limits for inbound assured messages.
	MaxAssuredMessagesPendingFromSource int // 5
	MaxAssuredMessagesPendingTotal      int // 100

	// The roster is fetched before setting presence unless
	// NoRosterOnStartup is set.
	NoRosterOnStartup bool

	// AllowRegistration permits falling back to in-band registration
	// (XEP-0077) when authentication fails and the server offers it.
	AllowRegistration bool

	// FormSignatureKey and FormSignatureSecret sign submitted data forms
	// when set.
	FormSignatureKey    string
	FormSignatureSecret string

	// Sniffer observes every payload sent and received, before it is
	// enqueued or dispatched. Optional.
	Sniffer Sniffer

	// Handlers receive the session's observable events. Optional.
	Handlers EventHandlers

	// Identity advertised in service discovery responses and software
	// version replies.
	SoftwareName    string
	SoftwareVersion string
	SoftwareOS      string
}

func (c Config) withDefaults() (Config, error) {
	if c.Host == "" {
		return c, errors.New("xmpp: config requires a host")
	}
	if c.User == "" {
		return c, errors.New("xmpp: config requires a user")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.DefaultRetryTimeout == 0 {
		c.DefaultRetryTimeout = DefaultRetryTimeout
	}
	if c.DefaultNrRetries == 0 {
		c.DefaultNrRetries = DefaultNrRetries
	}
	if c.DefaultDropOff == nil {
		t := true
		c.DefaultDropOff = &t
	}
	if c.MaxAssuredMessagesPendingFromSource == 0 {
		c.MaxAssuredMessagesPendingFromSource = DefaultMaxAssuredPerSource
	}
	if c.MaxAssuredMessagesPendingTotal == 0 {
		c.MaxAssuredMessagesPendingTotal = DefaultMaxAssuredTotal
	}
	if c.SoftwareName == "" {
		c.SoftwareName = "quetzal"
	}
	return c, nil
}

// RetryPolicy controls retransmission of a single IQ request.
type RetryPolicy struct {
	// Timeout is the initial retry interval.
	Timeout time.Duration

	// Retries is the number of retransmissions before giving up.
	Retries int

	// DropOff doubles the interval after each attempt.
	DropOff bool

	// MaxTimeout caps the interval when DropOff is set. Zero means
	// unbounded.
	MaxTimeout time.Duration
}

func (c Config) defaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:    c.DefaultRetryTimeout,
		Retries:    c.DefaultNrRetries,
		DropOff:    *c.DefaultDropOff,
		MaxTimeout: c.DefaultMaxRetryTimeout,
	}
}
