// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// TemplateContext provides the variables available to config templates.
type TemplateContext struct {
	Home      string // user home directory
	ConfigDir string // directory holding the config file
	// Getenv looks up environment variables. Nil uses os.Getenv.
	Getenv func(string) string `json:"-"`
}

// NewTemplateContext returns a context for a config file in configDir.
func NewTemplateContext(configDir string) *TemplateContext {
	home, _ := os.UserHomeDir()
	return &TemplateContext{Home: home, ConfigDir: configDir}
}

// TemplateExpander handles Go text/template variable expansion in config values.
type TemplateExpander struct{}

// NewTemplateExpander creates a new template expander with built-in functions.
func NewTemplateExpander() *TemplateExpander {
	return &TemplateExpander{}
}

func (e *TemplateExpander) funcMap(ctx *TemplateContext) template.FuncMap {
	getenv := os.Getenv
	if ctx != nil && ctx.Getenv != nil {
		getenv = ctx.Getenv
	}
	return template.FuncMap{
		"env":     getenv,
		"replace": Replace,
		"upper":   strings.ToUpper,
		"lower":   strings.ToLower,
		"default": DefaultString,
	}
}

// Expand expands template variables in a string value.
func (e *TemplateExpander) Expand(value string, ctx *TemplateContext) (string, error) {
	if !strings.Contains(value, "{{") {
		return value, nil
	}

	tmpl, err := template.New("").Option("missingkey=error").Funcs(e.funcMap(ctx)).Parse(value)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// ExpandConfig expands template variables in the values that may reference
// the environment: the backend address and token and the store path. It
// returns a copy; cfg is not modified.
func (e *TemplateExpander) ExpandConfig(cfg *Config, ctx *TemplateContext) (*Config, error) {
	expanded := *cfg

	fields := []struct {
		name string
		val  *string
	}{
		{"backend.base_url", &expanded.Backend.BaseURL},
		{"backend.token", &expanded.Backend.Token},
		{"store.path", &expanded.Store.Path},
	}
	for _, f := range fields {
		v, err := e.Expand(*f.val, ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.val = v
	}

	return &expanded, nil
}

// Replace replaces all occurrences of old with new in s.
func Replace(old, new, s string) string {
	return strings.ReplaceAll(s, old, new)
}

// DefaultString returns the value if non-empty, otherwise the default.
func DefaultString(defaultVal, value string) string {
	if value == "" {
		return defaultVal
	}
	return value
}
