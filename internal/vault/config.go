// Package vault provides HashiCorp Vault integration for secrets management.
package vault

import (
	"os"
	"strconv"
	"time"
)

// Config holds Vault client configuration.
type Config struct {
	// Enabled enables Vault integration
	Enabled bool

	// Address is the Vault server URL
	Address string

	// Namespace is the Vault namespace (Enterprise feature)
	Namespace string

	// AuthMethod is the authentication method ("kubernetes" or "token")
	AuthMethod string

	// Role is the Vault role for Kubernetes authentication
	Role string

	// TokenPath is the path to the Kubernetes service account token
	TokenPath string

	// Token is a static Vault token (for development/testing)
	Token string

	// TLSSkipVerify skips TLS certificate verification
	TLSSkipVerify bool

	// CACert is the path to a CA certificate file
	CACert string

	// SecretMountPath is the mount path for the KV secrets engine
	SecretMountPath string

	// TokenRenewalInterval is how often to renew the Vault token
	TokenRenewalInterval time.Duration

	// SecretRefreshInterval is how often to refresh cached secrets
	SecretRefreshInterval time.Duration

	// FallbackToEnv enables fallback to environment variables if Vault is unavailable
	FallbackToEnv bool

	// SecretPaths contains the Vault paths for each secret type
	SecretPaths SecretPaths
}

// SecretPaths defines the Vault paths for different secret types.
type SecretPaths struct {
	// Database is the path to metadata database credentials
	Database string

	// Source is the path to capture-source database credentials
	Source string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:               false,
		Address:               "",
		Namespace:             "",
		AuthMethod:            AuthMethodKubernetes,
		Role:                  "mnemosyne",
		TokenPath:             DefaultTokenPath,
		Token:                 "",
		TLSSkipVerify:         false,
		CACert:                "",
		SecretMountPath:       "secret",
		TokenRenewalInterval:  time.Hour,
		SecretRefreshInterval: 5 * time.Minute,
		FallbackToEnv:         true,
		SecretPaths: SecretPaths{
			Database: "mnemosyne/database/metadata",
			Source:   "mnemosyne/database/source",
		},
	}
}

// LoadConfig loads Vault configuration from environment variables.
func LoadConfig() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("MNEMOSYNE_VAULT_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_ADDR"); v != "" {
		cfg.Address = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_AUTH_METHOD"); v != "" {
		cfg.AuthMethod = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_ROLE"); v != "" {
		cfg.Role = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_SECRET_MOUNT"); v != "" {
		cfg.SecretMountPath = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_DB_SECRET_PATH"); v != "" {
		cfg.SecretPaths.Database = v
	}
	if v := os.Getenv("MNEMOSYNE_VAULT_SOURCE_SECRET_PATH"); v != "" {
		cfg.SecretPaths.Source = v
	}

	return cfg
}

// Authentication method constants.
const (
	// AuthMethodKubernetes uses Kubernetes service account authentication
	AuthMethodKubernetes = "kubernetes"

	// AuthMethodToken uses a static Vault token
	AuthMethodToken = "token"
)

// DefaultTokenPath is the default path to the Kubernetes service account token.
const DefaultTokenPath = "/var/run/secrets/kubernetes.io/serviceaccount/token"

// Secret key constants for Vault KV secrets.
const (
	// SecretKeyPassword is the key for password fields
	SecretKeyPassword = "password"

	// SecretKeyUsername is the key for username fields
	SecretKeyUsername = "username"
)
