// Package acmeconfig is component G's configuration half: parses the
// main YAML configuration plus the conf.d supplementary authorization
// files, and validates the result before it is allowed to replace a
// running configuration (spec §4.7, §6).
//
// Parsing goes through github.com/spf13/viper, the same configuration
// library the teacher uses in core/config.go; conf.d documents are
// small standalone YAML snippets, so those are decoded directly with
// gopkg.in/yaml.v2 instead of standing up a second viper instance per
// file.
package acmeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/wikimedia/operations-software-certcentral/internal/acmeclient"
	"github.com/wikimedia/operations-software-certcentral/internal/dns01"
)

// Account is one ACME account record (spec §3).
type Account struct {
	ID        string `mapstructure:"id"`
	Directory string `mapstructure:"directory"`
	Email     string `mapstructure:"email"`
	Default   bool   `mapstructure:"default"`
}

// Certificate is one cert-id's configuration record (spec §3, §6).
type Certificate struct {
	CommonName        string                    `mapstructure:"CN"`
	SNI               []string                  `mapstructure:"SNI"`
	Challenge         acmeclient.ChallengeType  `mapstructure:"challenge"`
	Account           string                    `mapstructure:"account"`
	StagingTimeSecs   *float64                  `mapstructure:"staging_time"`
	AuthorizedHosts   []string                  `mapstructure:"authorized_hosts"`
	AuthorizedRegexes []string                  `mapstructure:"authorized_regexes"`

	compiledRegexes []*regexp.Regexp
}

// StagingTime returns the certificate's staging time as a duration,
// defaulting to 3600s when unset (spec §3); an explicit 0 means no wait.
func (c Certificate) StagingTime() time.Duration {
	if c.StagingTimeSecs == nil {
		return 3600 * time.Second
	}
	return time.Duration(*c.StagingTimeSecs * float64(time.Second))
}

// DNS01Config is the `challenges.dns-01` block (spec §6).
type DNS01Config struct {
	ValidationDNSServers []string `mapstructure:"validation_dns_servers"`
	SyncDNSServers       []string `mapstructure:"sync_dns_servers"`
	ZoneUpdateCmd        string   `mapstructure:"zone_update_cmd"`
	ZoneUpdateCmdTimeoutSecs float64 `mapstructure:"zone_update_cmd_timeout"`
}

// Timeout returns the configured zone-update timeout, defaulting to
// dns01.DefaultTimeout.
func (d DNS01Config) Timeout() time.Duration {
	if d.ZoneUpdateCmdTimeoutSecs == 0 {
		return dns01.DefaultTimeout
	}
	return time.Duration(d.ZoneUpdateCmdTimeoutSecs * float64(time.Second))
}

// Challenges is the top-level `challenges` block.
type Challenges struct {
	DNS01 DNS01Config `mapstructure:"dns-01"`
}

// Config is the fully parsed, merged and validated configuration.
type Config struct {
	Accounts     []Account              `mapstructure:"accounts"`
	Certificates map[string]*Certificate `mapstructure:"certificates"`
	Challenges   Challenges             `mapstructure:"challenges"`
}

// confDDoc is one conf.d/*.yaml document: {certname, hostname}.
type confDDoc struct {
	CertName string `yaml:"certname"`
	Hostname string `yaml:"hostname"`
}

// Load reads the main config file at path, merges in every *.yaml
// document under confDDir (if it exists), compiles authorized_regexes,
// and validates the result.
func Load(path, confDDir string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("acmeconfig: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("acmeconfig: parse %s: %w", path, err)
	}

	if err := cfg.mergeConfD(confDDir); err != nil {
		return nil, err
	}

	for name, c := range cfg.Certificates {
		compiled := make([]*regexp.Regexp, 0, len(c.AuthorizedRegexes))
		for _, pattern := range c.AuthorizedRegexes {
			re, err := regexp.Compile("^(?:" + pattern + ")$")
			if err != nil {
				return nil, fmt.Errorf("acmeconfig: cert %s: invalid regex %q: %w", name, pattern, err)
			}
			compiled = append(compiled, re)
		}
		c.compiledRegexes = compiled
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfD folds every *.yaml / *.yml document under dir into the
// matching certificate's AuthorizedHosts list. A missing directory is
// not an error — conf.d is optional.
func (c *Config) mergeConfD(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("acmeconfig: read conf.d %s: %w", dir, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := c.mergeConfDFile(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) mergeConfDFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("acmeconfig: read %s: %w", path, err)
	}
	var doc confDDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("acmeconfig: parse %s: %w", path, err)
	}
	if doc.CertName == "" || doc.Hostname == "" {
		return nil
	}
	cert, ok := c.Certificates[doc.CertName]
	if !ok {
		return fmt.Errorf("acmeconfig: %s references unknown certificate %q", path, doc.CertName)
	}
	cert.AuthorizedHosts = append(cert.AuthorizedHosts, doc.Hostname)
	return nil
}
