package configuration

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"
)

// Configuration is a versioned patchmaker configuration, intended to be
// provided by a yaml file and optionally overridden by environment
// variables.
//
// Note that yaml field names should never include _ characters, since this
// is the separator used in environment variable names.
type Configuration struct {
	// Version is the version which defines the format of the rest of the
	// configuration.
	Version Version `yaml:"version"`

	// InstallDir is the root of the install tree a session operates on.
	InstallDir string `yaml:"installdir"`

	// Log supports setting various parameters related to the logging
	// subsystem.
	Log Log `yaml:"log"`

	// Delta configures the external delta-build and delta-apply oracles.
	Delta Delta `yaml:"delta,omitempty"`

	// Compression configures the external archive compressor.
	Compression Compression `yaml:"compression,omitempty"`

	// HTTP contains configuration parameters for the chain-query server's
	// http interface.
	HTTP HTTP `yaml:"http,omitempty"`

	// Notifications specifies configuration about various endpoints to
	// which session events are dispatched.
	Notifications Notifications `yaml:"notifications,omitempty"`

	// Health provides the configuration section for health checks. It
	// allows defining various checks to monitor the health of different
	// subsystems.
	Health Health `yaml:"health,omitempty"`

	// Metrics configures the prometheus-compatible metrics endpoint.
	Metrics Metrics `yaml:"metrics,omitempty"`
}

// Log represents the configuration for logging within the application.
type Log struct {
	// Level is the granularity at which operations are logged.
	Level Loglevel `yaml:"level,omitempty"`

	// Formatter overrides the default formatter with another. Options
	// include "text" and "json".
	Formatter string `yaml:"formatter,omitempty"`

	// Fields allows users to specify static string fields to include in
	// the logger context.
	Fields map[string]interface{} `yaml:"fields,omitempty"`

	// ReportCaller allows the user to configure the log to report the
	// caller.
	ReportCaller bool `yaml:"reportcaller,omitempty"`
}

// Delta configures the external commands patchmaker shells out to for
// building and applying deltas between two archive versions.
type Delta struct {
	// BuildCommand is the delta-build executable, invoked as
	// "<cmd> <from> <to> <out>".
	BuildCommand string `yaml:"buildcommand,omitempty"`

	// ApplyCommand is the delta-apply executable, invoked as
	// "<cmd> <source> <out> <patch>".
	ApplyCommand string `yaml:"applycommand,omitempty"`

	// Timeout is parsed but not applied: build and apply invocations run
	// without a time bound.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Compression configures the external archive compressor.
type Compression struct {
	// Command is the compressor executable. An empty value selects the
	// built-in zlib compressor.
	Command string `yaml:"command,omitempty"`

	// Level is the requested compression level, 1 (fastest) through 9
	// (smallest). Zero selects level 9.
	Level int `yaml:"level,omitempty"`
}

// HTTP defines configuration options for the chain-query server's HTTP
// interface.
type HTTP struct {
	// Addr specifies the bind address for the server.
	Addr string `yaml:"addr,omitempty"`

	// Net specifies the net portion of the bind address. A default empty
	// value means tcp.
	Net string `yaml:"net,omitempty"`

	// Prefix specifies a URL path prefix for the HTTP interface.
	Prefix string `yaml:"prefix,omitempty"`

	// DrainTimeout bounds how long to wait for connections to drain
	// before shutting down on a stop signal.
	DrainTimeout time.Duration `yaml:"draintimeout,omitempty"`

	// TLS is parsed but the query server does not read it; the server
	// listens without TLS.
	TLS TLS `yaml:"tls,omitempty"`

	// Headers is a set of headers to include in HTTP responses.
	Headers http.Header `yaml:"headers,omitempty"`

	// Debug is parsed but the query server does not read it: no debug
	// listener is started and Debug.Prometheus has no effect.
	Debug Debug `yaml:"debug,omitempty"`
}

// Debug defines the configuration options for the server's debug
// interface.
type Debug struct {
	// Addr specifies the bind address for the debug server.
	Addr string `yaml:"addr,omitempty"`

	// Prometheus configures the Prometheus telemetry endpoint for
	// monitoring purposes.
	Prometheus Prometheus `yaml:"prometheus,omitempty"`
}

// Prometheus configures the Prometheus telemetry endpoint.
type Prometheus struct {
	// Enabled determines whether Prometheus telemetry is enabled or not.
	Enabled bool `yaml:"enabled,omitempty"`

	// Path specifies the URL path where the Prometheus metrics are
	// exposed. The default is "/metrics", but it can be customized here.
	Path string `yaml:"path,omitempty"`
}

// TLS defines the configuration options for enabling and configuring TLS
// for the chain-query server.
type TLS struct {
	// Certificate specifies the path to an x509 certificate file to be
	// used for TLS.
	Certificate string `yaml:"certificate,omitempty"`

	// Key specifies the path to the x509 key file, which should contain
	// the private portion for the file specified in Certificate.
	Key string `yaml:"key,omitempty"`

	// Specifies the lowest TLS version allowed.
	MinimumTLS string `yaml:"minimumtls,omitempty"`
}

// FileChecker is a type of entry in the health section for checking files.
type FileChecker struct {
	// Interval is the duration in between checks.
	Interval time.Duration `yaml:"interval,omitempty"`

	// File is the path to check.
	File string `yaml:"file,omitempty"`

	// Threshold is the number of times a check must fail to trigger an
	// unhealthy state.
	Threshold int `yaml:"threshold,omitempty"`
}

// HTTPChecker is a type of entry in the health section for checking HTTP
// URIs.
type HTTPChecker struct {
	// Timeout is the duration to wait before timing out the HTTP request.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// StatusCode is the expected status code.
	StatusCode int

	// Interval is the duration in between checks.
	Interval time.Duration `yaml:"interval,omitempty"`

	// URI is the HTTP URI to check.
	URI string `yaml:"uri,omitempty"`

	// Headers lists static headers that should be added to all requests.
	Headers http.Header `yaml:"headers"`

	// Threshold is the number of times a check must fail to trigger an
	// unhealthy state.
	Threshold int `yaml:"threshold,omitempty"`
}

// TCPChecker is a type of entry in the health section for checking TCP
// servers.
type TCPChecker struct {
	// Timeout is the duration to wait before timing out the TCP
	// connection.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	// Interval is the duration in between checks.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Addr is the TCP address to check.
	Addr string `yaml:"addr,omitempty"`

	// Threshold is the number of times a check must fail to trigger an
	// unhealthy state.
	Threshold int `yaml:"threshold,omitempty"`
}

// Health provides the configuration section for health checks.
type Health struct {
	// InstallDirChecker, if enabled, checks that InstallDir exists, is a
	// directory, and is listable.
	InstallDirChecker struct {
		Enabled   bool `yaml:"enabled,omitempty"`
		Threshold int  `yaml:"threshold,omitempty"`
	} `yaml:"installdir,omitempty"`

	// FileCheckers is a list of paths to check.
	FileCheckers []FileChecker `yaml:"file,omitempty"`

	// HTTPCheckers is a list of URIs to check.
	HTTPCheckers []HTTPChecker `yaml:"http,omitempty"`

	// TCPCheckers is a list of TCP addresses to check.
	TCPCheckers []TCPChecker `yaml:"tcp,omitempty"`
}

// Metrics configures the metrics endpoint exposed alongside the chain-query
// server.
type Metrics struct {
	// Enabled turns on the /metrics endpoint.
	Enabled bool `yaml:"enabled,omitempty"`

	// Addr is the bind address for the metrics endpoint. Empty reuses
	// HTTP.Addr.
	Addr string `yaml:"addr,omitempty"`
}

// Notifications configures multiple http endpoints that receive session
// events.
type Notifications struct {
	// Endpoints is a list of http configurations for endpoints that
	// respond to session event notifications.
	Endpoints []Endpoint `yaml:"endpoints,omitempty"`
}

// Endpoint describes the configuration of an http notification endpoint.
type Endpoint struct {
	Name      string        `yaml:"name"`      // identifies the endpoint in this configuration.
	Disabled  bool          `yaml:"disabled"`  // disables the endpoint.
	URL       string        `yaml:"url"`       // post url for the endpoint.
	Headers   http.Header   `yaml:"headers"`   // static headers added to all requests.
	Timeout   time.Duration `yaml:"timeout"`   // HTTP timeout.
	Threshold int           `yaml:"threshold"` // circuit breaker threshold before backing off on failure.
	Backoff   time.Duration `yaml:"backoff"`   // backoff duration.
}

// v0_1Configuration is a Version 0.1 Configuration struct. This is
// currently aliased to Configuration, as it is the current version.
type v0_1Configuration Configuration

// UnmarshalYAML implements the yaml.Unmarshaler interface. Unmarshals a
// string of the form X.Y into a Version, validating that X and Y can
// represent unsigned integers.
func (version *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var versionString string
	err := unmarshal(&versionString)
	if err != nil {
		return err
	}

	newVersion := Version(versionString)
	if _, err := newVersion.major(); err != nil {
		return err
	}

	if _, err := newVersion.minor(); err != nil {
		return err
	}

	*version = newVersion
	return nil
}

// CurrentVersion is the most recent Version that can be parsed.
var CurrentVersion = MajorMinorVersion(0, 1)

// Loglevel is the level at which operations are logged. This can be error,
// warn, info, or debug.
type Loglevel string

// UnmarshalYAML implements the yaml.Unmarshaler interface. Unmarshals a
// string into a Loglevel, lowercasing the string and validating that it
// represents a valid loglevel.
func (loglevel *Loglevel) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var loglevelString string
	err := unmarshal(&loglevelString)
	if err != nil {
		return err
	}

	loglevelString = strings.ToLower(loglevelString)
	switch loglevelString {
	case "error", "warn", "info", "debug":
	default:
		return fmt.Errorf("invalid loglevel %s Must be one of [error, warn, info, debug]", loglevelString)
	}

	*loglevel = Loglevel(loglevelString)
	return nil
}

// Parse parses an input configuration yaml document into a Configuration
// struct.
//
// Environment variables may be used to override configuration parameters
// other than version, following the scheme below:
// Configuration.Abc may be replaced by the value of PATCHMAKER_ABC,
// Configuration.Abc.Xyz may be replaced by the value of PATCHMAKER_ABC_XYZ,
// and so forth.
func Parse(rd io.Reader) (*Configuration, error) {
	in, err := io.ReadAll(rd)
	if err != nil {
		return nil, err
	}

	p := NewParser("patchmaker", []VersionedParseInfo{
		{
			Version: MajorMinorVersion(0, 1),
			ParseAs: reflect.TypeOf(v0_1Configuration{}),
			ConversionFunc: func(c interface{}) (interface{}, error) {
				if v0_1, ok := c.(*v0_1Configuration); ok {
					if v0_1.Log.Level == Loglevel("") {
						v0_1.Log.Level = Loglevel("info")
					}

					if v0_1.InstallDir == "" {
						return nil, errors.New("no install directory configured")
					}

					return (*Configuration)(v0_1), nil
				}
				return nil, fmt.Errorf("expected *v0_1Configuration, received %#v", c)
			},
		},
	})

	config := new(Configuration)
	err = p.Parse(in, config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
