package config

import "time"

// Config is the root configuration object, covering every key recognized
// per spec §6.
type Config struct {
	Method   string `yaml:"method"`
	LogLevel string `yaml:"log_level"`

	SSH        SSHConfig        `yaml:"ssh_config"`
	OpenSearch OpenSearchConfig `yaml:"opensearch_config"`

	Clusters map[string][]string `yaml:"clusters"`

	Tracing TracingConfig `yaml:"tracing"`

	Domain string `yaml:"domain"`
}

// HostConfig carries the per-host knobs the shell aggregator needs to
// read and parse a host's mail logs.
type HostConfig struct {
	LogFiles    []string `yaml:"log_files"`
	Parser      string   `yaml:"parser"` // "rfc5424" | "rfc3164" | "auto"
	TimeFormat  string   `yaml:"time_format"`
	DefaultYear int      `yaml:"default_year"`
}

// SSHConfig configures the ShellAggregator backend.
type SSHConfig struct {
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	PrivateKey     string `yaml:"private_key"`
	Sudo           bool   `yaml:"sudo"`
	SudoPass       string `yaml:"sudo_pass"`
	Timeout        int    `yaml:"timeout"`
	SSHConfigFile  string `yaml:"ssh_config_file"`
	DefaultHost    HostConfig            `yaml:"default_host"`
	HostConfigs    map[string]HostConfig `yaml:"host_config"`
	Hosts          []string              `yaml:"hosts"`
}

// TimeoutDuration returns SSH.Timeout as a time.Duration, defaulting to
// 10 seconds per spec §6.
func (s SSHConfig) TimeoutDuration() time.Duration {
	if s.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(s.Timeout) * time.Second
}

// HostConfigFor returns the per-host config for host, falling back to
// DefaultHost when no explicit entry exists, per spec §4.2.1.
func (s SSHConfig) HostConfigFor(host string) HostConfig {
	if hc, ok := s.HostConfigs[host]; ok {
		return hc
	}
	return s.DefaultHost
}

// IndexMapping names the OpenSearch fields mailtrace's queries and
// client-side extraction read from.
type IndexMapping struct {
	Facility  string `yaml:"facility"`
	Hostname  string `yaml:"hostname"`
	Message   string `yaml:"message"`
	Timestamp string `yaml:"timestamp"`
	Service   string `yaml:"service"`
}

// OpenSearchConfig configures the IndexAggregator backend.
type OpenSearchConfig struct {
	Host         string       `yaml:"host"`
	Port         int          `yaml:"port"`
	Username     string       `yaml:"username"`
	Password     string       `yaml:"password"`
	Index        string       `yaml:"index"`
	UseSSL       bool         `yaml:"use_ssl"`
	VerifyCerts  bool         `yaml:"verify_certs"`
	TimeZone     string       `yaml:"time_zone"`
	Timeout      int          `yaml:"timeout"`
	Mapping      IndexMapping `yaml:"mapping"`
	MaxResults   int          `yaml:"max_results"`
}

// TimeoutDuration returns OpenSearch.Timeout as a time.Duration,
// defaulting to 10 seconds per spec §6.
func (o OpenSearchConfig) TimeoutDuration() time.Duration {
	if o.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(o.Timeout) * time.Second
}

// Location parses TimeZone ("+00:00" style) into a *time.Location.
func (o OpenSearchConfig) Location() *time.Location {
	loc, err := parseOffset(o.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TracingConfig configures the continuous pipeline (spec §4.5).
type TracingConfig struct {
	SleepSeconds   int `yaml:"sleep_seconds"`
	HoldRounds     int `yaml:"hold_rounds"`
	GoBackSeconds  int `yaml:"go_back_seconds"`
}

func (t TracingConfig) SleepDuration() time.Duration {
	if t.SleepSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(t.SleepSeconds) * time.Second
}

func (t TracingConfig) GoBackDuration() time.Duration {
	if t.GoBackSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(t.GoBackSeconds) * time.Second
}
