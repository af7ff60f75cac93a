package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FuzzLoadConfig feeds arbitrary YAML through LoadFrom. Loading may fail,
// but a configuration that loads must satisfy validation.
func FuzzLoadConfig(f *testing.F) {
	seed, err := yaml.Marshal(Default())
	if err != nil {
		f.Fatal(err)
	}
	f.Add(string(seed))
	f.Add(`server:
  port: 8080
  host: localhost`)
	f.Add(`server:
  port: "invalid_port"`)
	f.Add(`folders:
  staging: build/out
  minified: build/out
  production: build/prod`)
	f.Add(`revision:
  digest_length: 2`)
	f.Add(`sources:
  - name: js
    kind: script
    globs: ["src/**/*.js"]`)
	f.Add(`malformed: yaml: content`)
	f.Add(``)

	f.Fuzz(func(t *testing.T, content string) {
		if len(content) > 50000 {
			t.Skip("config content too large")
		}

		v := viper.New()
		v.SetConfigType("yaml")
		if err := v.ReadConfig(strings.NewReader(content)); err != nil {
			return
		}
		v.Set("root", t.TempDir())

		cfg, err := LoadFrom(v)
		if err != nil {
			return
		}
		if err := Validate(cfg); err != nil {
			t.Errorf("loaded configuration fails validation: %v", err)
		}
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			t.Errorf("loaded invalid port %d", cfg.Server.Port)
		}
		if cfg.Revision.DigestLength < 4 || cfg.Revision.DigestLength > 64 {
			t.Errorf("loaded invalid digest length %d", cfg.Revision.DigestLength)
		}
	})
}

// FuzzExpand checks that placeholder expansion leaves text without
// placeholders untouched and never panics.
func FuzzExpand(f *testing.F) {
	f.Add("{name}.js", "data-dashboard")
	f.Add("//! {banner}\n", "app")
	f.Add("plain.css", "x")
	f.Add("{unknown}", "")
	f.Add("{", "{name}")

	f.Fuzz(func(t *testing.T, s, name string) {
		cfg := Default()
		cfg.Project = Project{Name: name, Version: "1.0.0", Homepage: "https://example.org", License: "MIT"}

		out := cfg.Expand(s)
		if !strings.Contains(s, "{") && out != s {
			t.Errorf("Expand(%q) = %q, want input unchanged", s, out)
		}
		if !strings.Contains(s, "{name}") && !strings.Contains(s, "{banner}") &&
			!strings.Contains(s, "{version}") && !strings.Contains(s, "{homepage}") &&
			!strings.Contains(s, "{license}") && out != s {
			t.Errorf("Expand(%q) = %q without any placeholder", s, out)
		}
	})
}
