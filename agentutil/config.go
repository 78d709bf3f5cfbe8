package agentutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ozlevka/KubeSage/internal/model"
)

// Defaults used when neither the config file nor the environment sets a value.
const (
	DefaultVendor        = "openrouter"
	DefaultModel         = "openai/gpt-4o"
	DefaultFallbackModel = "openai/gpt-4o-mini"
	DefaultListenAddr    = ":8000"
)

// Config holds KubeSage configuration. Values come from an optional YAML
// file named by KUBESAGE_CONFIG, then from KUBESAGE_* variables, which win.
// API keys are only ever read from the environment.
type Config struct {
	ModelVendor      string   `yaml:"model_vendor"`
	ModelName        string   `yaml:"model_name"`
	FallbackModel    string   `yaml:"fallback_model"`
	BaseURL          string   `yaml:"base_url"`
	APIKey           string   `yaml:"-"`
	ListenAddr       string   `yaml:"listen_addr"`
	PublicURL        string   `yaml:"public_url"`
	KubeContext      string   `yaml:"kube_context"`
	AuditDSN         string   `yaml:"audit_dsn"`
	CORSOrigins      []string `yaml:"cors_origins"`
	A2AEnabled       bool     `yaml:"a2a_enabled"`
	DeniedTools      []string `yaml:"denied_tools"`
	DeniedNamespaces []string `yaml:"denied_namespaces"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		ModelVendor:   DefaultVendor,
		ModelName:     DefaultModel,
		FallbackModel: DefaultFallbackModel,
		ListenAddr:    DefaultListenAddr,
		CORSOrigins:   []string{"*"},
	}
}

// LoadConfig builds the configuration. A missing API key is not an error
// here; cluster endpoints work without one and NewLLM reports it when a
// model is first needed.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if path := os.Getenv("KUBESAGE_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	data = []byte(os.ExpandEnv(string(data)))
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.ModelVendor, "KUBESAGE_MODEL_VENDOR")
	setString(&c.ModelName, "KUBESAGE_MODEL_NAME")
	setString(&c.FallbackModel, "KUBESAGE_FALLBACK_MODEL")
	setString(&c.BaseURL, "KUBESAGE_BASE_URL")
	setString(&c.ListenAddr, "KUBESAGE_ADDR")
	setString(&c.PublicURL, "KUBESAGE_PUBLIC_URL")
	setString(&c.KubeContext, "KUBESAGE_KUBE_CONTEXT")
	setString(&c.AuditDSN, "KUBESAGE_AUDIT_DSN")
	setList(&c.CORSOrigins, "KUBESAGE_CORS_ORIGINS")
	setList(&c.DeniedTools, "KUBESAGE_DENIED_TOOLS")
	setList(&c.DeniedNamespaces, "KUBESAGE_DENIED_NAMESPACES")
	if v := os.Getenv("KUBESAGE_A2A_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KUBESAGE_A2A_ENABLED: invalid boolean %q", v)
		}
		c.A2AEnabled = enabled
	}

	c.ModelVendor = strings.ToLower(c.ModelVendor)
	if key := os.Getenv("KUBESAGE_API_KEY"); key != "" {
		c.APIKey = key
	} else {
		for _, name := range apiKeyVars(c.ModelVendor) {
			if key := os.Getenv(name); key != "" {
				c.APIKey = key
				break
			}
		}
	}
	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*dst = out
}

// apiKeyVars lists the vendor's key variables in lookup order.
func apiKeyVars(vendor string) []string {
	switch vendor {
	case "openrouter":
		return []string{"OPENROUTER_API_KEY"}
	case "openai":
		return []string{"OPENAI_API_KEY"}
	case "anthropic":
		return []string{"ANTHROPIC_API_KEY"}
	case "gemini", "google":
		return []string{"GOOGLE_API_KEY", "GEMINI_API_KEY"}
	}
	return nil
}

// APIKeyVar names the environment variable the vendor's key is read from.
func (c Config) APIKeyVar() string {
	if vars := apiKeyVars(c.ModelVendor); len(vars) > 0 {
		return vars[0]
	}
	return "KUBESAGE_API_KEY"
}

// Validate reports configuration that makes model calls impossible.
// The returned error wraps model.ErrConfig.
func (c Config) Validate() error {
	if apiKeyVars(c.ModelVendor) == nil {
		return fmt.Errorf("%w: unknown model vendor %q (supported: openrouter, openai, anthropic, gemini)",
			model.ErrConfig, c.ModelVendor)
	}
	if c.ModelName == "" {
		return fmt.Errorf("%w: model name is empty", model.ErrConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: %s environment variable is not set", model.ErrConfig, c.APIKeyVar())
	}
	return nil
}

// WithModel returns a copy of c using modelName, or c unchanged when modelName is empty.
func (c Config) WithModel(modelName string) Config {
	if modelName != "" {
		c.ModelName = modelName
	}
	return c
}
