// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package config

import (
	"net/url"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// SecretStatus reports which environment secrets are present.
type SecretStatus struct {
	AccessSecret  bool `yaml:"access_secret_set"`
	RefreshSecret bool `yaml:"refresh_secret_set"`
	ResetSecret   bool `yaml:"reset_secret_set"`
	ResendAPIKey  bool `yaml:"resend_api_key_set"`
}

type dump struct {
	Config  `yaml:",inline"`
	Secrets SecretStatus `yaml:"secrets"`
}

// DumpYAML renders c as YAML without secret values. A password in the
// database URL is masked.
func (c *Config) DumpYAML() ([]byte, error) {
	out := dump{
		Config: *c,
		Secrets: SecretStatus{
			AccessSecret:  c.Secrets.AccessSecret != "",
			RefreshSecret: c.Secrets.RefreshSecret != "",
			ResetSecret:   c.Secrets.ResetSecret != "",
			ResendAPIKey:  c.Secrets.ResendAPIKey != "",
		},
	}
	if u, err := url.Parse(c.Database.URL); err == nil && u.User != nil {
		out.Database.URL = u.Redacted()
	}
	data, err := yaml.Marshal(out)
	if err != nil {
		return nil, oops.Code("CONFIG_DUMP_FAILED").Wrap(err)
	}
	return data, nil
}
