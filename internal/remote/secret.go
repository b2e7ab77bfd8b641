package remote

import "os"

// SecretProvider supplies the remote repository credential. The
// credential is always injected; it is never embedded in the binary or
// the configuration file.
type SecretProvider interface {
	// Token returns the credential and whether one is available.
	Token() (string, bool)
}

// EnvProvider reads the credential from an environment variable.
type EnvProvider struct {
	Var string
}

func (p EnvProvider) Token() (string, bool) {
	v := os.Getenv(p.Var)
	return v, v != ""
}

// StaticProvider returns a fixed credential, mainly for tests and for
// tokens passed on the command line.
type StaticProvider struct {
	Value string
}

func (p StaticProvider) Token() (string, bool) {
	return p.Value, p.Value != ""
}
