// Package service holds the declarative service definition model: connection
// parameters for one backend plus its named HTTP endpoints.
package service

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// allowedMethods is the whitelist of HTTP methods for endpoints.
var allowedMethods = map[string]bool{
	"GET": true, "POST": true,
}

// paramTypes is the fixed parameter type vocabulary. Unknown types fall back
// to string at bind time.
var paramTypes = map[string]bool{
	"string": true, "integer": true, "number": true,
	"boolean": true, "array": true, "object": true,
}

// ServiceConfig holds connection parameters shared by all endpoints of one
// service. Immutable after load.
type ServiceConfig struct {
	Name        string  `json:"name"`
	BaseURL     string  `json:"base_url"`
	APIKey      string  `json:"api_key"`
	Version     string  `json:"version"`
	TimeoutSec  float64 `json:"timeout"`
	MaxRetries  int     `json:"max_retries"`
	CacheTTLSec float64 `json:"cache_ttl"`
}

// Timeout returns the request timeout as a duration.
func (c *ServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec * float64(time.Second))
}

// CacheTTL returns the cache entry lifetime as a duration.
func (c *ServiceConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSec * float64(time.Second))
}

// ParamSpec describes one endpoint parameter.
type ParamSpec struct {
	Type     string
	Required bool
	Default  any // nil when no explicit default: parameter is optional/absent
}

// UnmarshalJSON accepts both "default" and the legacy "defaultValue" key.
func (p *ParamSpec) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type         string `json:"type"`
		Required     bool   `json:"required"`
		Default      any    `json:"default"`
		DefaultValue any    `json:"defaultValue"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Type = raw.Type
	p.Required = raw.Required
	p.Default = raw.Default
	if p.Default == nil {
		p.Default = raw.DefaultValue
	}
	return nil
}

// MarshalJSON writes the canonical "default" key.
func (p ParamSpec) MarshalJSON() ([]byte, error) {
	raw := map[string]any{
		"type":     p.Type,
		"required": p.Required,
	}
	if p.Default != nil {
		raw["default"] = p.Default
	}
	return json.Marshal(raw)
}

// APIEndpoint describes one named HTTP operation of a service.
type APIEndpoint struct {
	Path           string               `json:"path"`
	Method         string               `json:"method"`
	Description    string               `json:"description"`
	Parameters     map[string]ParamSpec `json:"parameters"`
	ResponseFormat string               `json:"response_format"` // "json" (default) or "text"
	ContentType    string               `json:"content_type"`    // "json" (default) or "form"
	RateLimit      int                  `json:"rate_limit"`      // requests per minute, 0 = unlimited
	ResponsePath   string               `json:"response_path"`   // gjson path, default "data.list"
}

// ServiceDefinition is the registry entry model: a named set of endpoints.
type ServiceDefinition struct {
	Name        string                 `json:"name"`
	Category    string                 `json:"category"`
	Description string                 `json:"description"`
	Enabled     bool                   `json:"enabled"`
	Endpoints   map[string]APIEndpoint `json:"endpoints"`
}

// File is the on-disk shape: one JSON document per service.
type File struct {
	ServiceConfig     ServiceConfig     `json:"service_config"`
	ServiceDefinition ServiceDefinition `json:"service_definition"`
}

// Parse decodes and validates one service definition document.
func Parse(data []byte) (*ServiceDefinition, *ServiceConfig, error) {
	var f File
	// Enabled defaults to true when the key is absent.
	f.ServiceDefinition.Enabled = true
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("failed to parse service definition: %w", err)
	}

	cfg := f.ServiceConfig
	def := f.ServiceDefinition
	applyDefaults(&cfg, &def)

	if err := Validate(&def, &cfg); err != nil {
		return nil, nil, err
	}
	return &def, &cfg, nil
}

// LoadFile reads and parses one service definition file.
func LoadFile(path string) (*ServiceDefinition, *ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read service file %s: %w", path, err)
	}
	def, cfg, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return def, cfg, nil
}

// applyDefaults fills unset optional fields.
func applyDefaults(cfg *ServiceConfig, def *ServiceDefinition) {
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 30
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.CacheTTLSec <= 0 {
		cfg.CacheTTLSec = 300
	}
	for name, ep := range def.Endpoints {
		if ep.ResponseFormat == "" {
			ep.ResponseFormat = "json"
		}
		if ep.ContentType == "" {
			ep.ContentType = "json"
		}
		if ep.ResponsePath == "" {
			ep.ResponsePath = "data.list"
		}
		ep.Method = strings.ToUpper(ep.Method)
		def.Endpoints[name] = ep
	}
}

// Validate checks a definition and config pair for structural errors.
// A validation failure rejects the whole document; nothing is registered.
func Validate(def *ServiceDefinition, cfg *ServiceConfig) error {
	if def.Name == "" {
		return fmt.Errorf("service definition has empty name")
	}
	if cfg.Name == "" {
		return fmt.Errorf("service %q has empty config name", def.Name)
	}
	if cfg.BaseURL == "" {
		return fmt.Errorf("service %q has empty base_url", def.Name)
	}
	if u, err := url.Parse(cfg.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("service %q has invalid base_url %q", def.Name, cfg.BaseURL)
	}

	for epName, ep := range def.Endpoints {
		if ep.Path == "" {
			return fmt.Errorf("endpoint %q of service %q has empty path", epName, def.Name)
		}
		if !allowedMethods[ep.Method] {
			return fmt.Errorf("endpoint %q of service %q has unsupported method %q", epName, def.Name, ep.Method)
		}
		if strings.Contains(ep.Path, "..") {
			return fmt.Errorf("endpoint %q of service %q has invalid path %q", epName, def.Name, ep.Path)
		}
		if ep.ResponseFormat != "json" && ep.ResponseFormat != "text" {
			return fmt.Errorf("endpoint %q of service %q has unknown response_format %q", epName, def.Name, ep.ResponseFormat)
		}
		if ep.ContentType != "json" && ep.ContentType != "form" {
			return fmt.Errorf("endpoint %q of service %q has unknown content_type %q", epName, def.Name, ep.ContentType)
		}
		if ep.RateLimit < 0 {
			return fmt.Errorf("endpoint %q of service %q has negative rate_limit", epName, def.Name)
		}
	}
	return nil
}

// KnownParamType reports whether t belongs to the parameter type vocabulary.
func KnownParamType(t string) bool {
	return paramTypes[t]
}

// Template is an example service definition written when the services
// directory is empty, so operators have a starting point to edit.
const Template = `{
  "service_config": {
    "name": "example",
    "base_url": "https://api.example.com",
    "api_key": "your-api-key",
    "version": "v1",
    "timeout": 30,
    "max_retries": 3,
    "cache_ttl": 300
  },
  "service_definition": {
    "name": "example",
    "category": "demo",
    "description": "Example service definition",
    "enabled": false,
    "endpoints": {
      "get_user": {
        "path": "users/{user_id}",
        "method": "GET",
        "description": "Fetch one user by id",
        "parameters": {
          "user_id": {"type": "string", "required": true}
        },
        "response_format": "json",
        "rate_limit": 100
      }
    }
  }
}
`

// WriteTemplate writes the example definition to path, creating parent
// directories as needed. Existing files are never overwritten.
func WriteTemplate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("template target %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Template), 0o644)
}
