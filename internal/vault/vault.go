// Package vault stores the single LLM API credential this service needs,
// grounded on the teacher's Vault (OS keychain via zalando/go-keyring,
// with an environment-variable fallback), scaled down from the
// teacher's per-provider (anthropic/openai/google) credential set to
// this domain's one secret: the extraction LLM's API key.
package vault

import (
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"
)

const serviceName = "pdfxtract"

// credentialName is the single keychain entry this Vault manages.
const credentialName = "llm"

// envVar is the environment-variable fallback for the LLM API key.
const envVar = "EXTRACT_LLM_API_KEY"

// Vault provides secure storage for the extraction LLM's API key using
// the OS keychain, with fallback to the EXTRACT_LLM_API_KEY environment
// variable.
type Vault struct{}

// New creates a new Vault instance.
func New() *Vault {
	return &Vault{}
}

// Set stores the LLM API key in the OS keychain.
func (v *Vault) Set(key string) error {
	return keyring.Set(serviceName, credentialName, key)
}

// Get retrieves the LLM API key. It first checks the OS keychain, then
// falls back to the EXTRACT_LLM_API_KEY environment variable.
func (v *Vault) Get() (string, error) {
	secret, err := keyring.Get(serviceName, credentialName)
	if err == nil && secret != "" {
		return secret, nil
	}

	if val := os.Getenv(envVar); val != "" {
		return val, nil
	}

	return "", fmt.Errorf("no LLM API key found: not in keychain and %s not set", envVar)
}

// Delete removes the LLM API key from the OS keychain.
func (v *Vault) Delete() error {
	return keyring.Delete(serviceName, credentialName)
}

// IsSet reports whether an LLM API key is available from either the
// keychain or the environment variable.
func (v *Vault) IsSet() bool {
	_, err := v.Get()
	return err == nil
}

// ResolveKeyRef parses a key reference and retrieves the corresponding
// API key. Supported formats:
//   - "keyring://pdfxtract/llm" (preferred)
//   - "keychain:pdfxtract/llm" (legacy)
//   - "env:VARIABLE_NAME" (environment variable)
//   - "file:///path/to/key" (plain-text file)
func (v *Vault) ResolveKeyRef(keyRef string) (string, error) {
	if strings.HasPrefix(keyRef, "keyring://") {
		path := strings.TrimPrefix(keyRef, "keyring://")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://pdfxtract/llm\")", keyRef)
		}
		return v.Get()
	}

	if strings.HasPrefix(keyRef, "keychain:") {
		path := strings.TrimPrefix(keyRef, "keychain:")
		parts := strings.SplitN(path, "/", 2)
		if len(parts) != 2 || parts[0] != serviceName || parts[1] == "" {
			return "", fmt.Errorf("invalid key reference path: %q (expected \"pdfxtract/llm\")", path)
		}
		return v.Get()
	}

	if strings.HasPrefix(keyRef, "env:") {
		variable := strings.TrimPrefix(keyRef, "env:")
		if val := os.Getenv(variable); val != "" {
			return val, nil
		}
		return "", fmt.Errorf("environment variable %q is not set", variable)
	}

	if strings.HasPrefix(keyRef, "file://") {
		filePath := strings.TrimPrefix(keyRef, "file://")
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading key file %q: %w", filePath, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return "", fmt.Errorf("key file %q is empty", filePath)
		}
		return key, nil
	}

	return "", fmt.Errorf("invalid key reference format: %q (expected \"keyring://pdfxtract/llm\", \"keychain:pdfxtract/llm\", \"env:VARIABLE_NAME\", or \"file:///path/to/key\")", keyRef)
}
