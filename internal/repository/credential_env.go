package repository

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go-file-engine/internal/model"
)

// EnvCredentialProvider resolves a credential reference such as "nas-main"
// from variables prefixed NAS_MAIN_ (USERNAME, PASSWORD, DOMAIN,
// PRIVATE_KEY_FILE, KNOWN_HOSTS_FILE, ACCESS_KEY, SECRET_KEY, ACCESS_TOKEN,
// REFRESH_TOKEN, CLIENT_ID, CLIENT_SECRET, TOKEN_URL).
type EnvCredentialProvider struct {
	lookup   func(string) (string, bool)
	readFile func(string) ([]byte, error)
}

func NewEnvCredentialProvider() *EnvCredentialProvider {
	return &EnvCredentialProvider{lookup: os.LookupEnv, readFile: os.ReadFile}
}

func (p *EnvCredentialProvider) Resolve(_ context.Context, ref string) (model.Credential, error) {
	prefix := envPrefix(ref)
	if prefix == "" {
		return model.Credential{}, fmt.Errorf("%w: empty credential reference", model.ErrInvalidInput)
	}

	found := false
	get := func(name string) string {
		value, ok := p.lookup(prefix + "_" + name)
		if ok && value != "" {
			found = true
		}
		return value
	}

	cred := model.Credential{
		Username:       get("USERNAME"),
		Password:       get("PASSWORD"),
		Domain:         get("DOMAIN"),
		KnownHostsFile: get("KNOWN_HOSTS_FILE"),
		AccessKey:      get("ACCESS_KEY"),
		SecretKey:      get("SECRET_KEY"),
		AccessToken:    get("ACCESS_TOKEN"),
		RefreshToken:   get("REFRESH_TOKEN"),
		ClientID:       get("CLIENT_ID"),
		ClientSecret:   get("CLIENT_SECRET"),
		TokenURL:       get("TOKEN_URL"),
	}

	if keyFile := get("PRIVATE_KEY_FILE"); keyFile != "" {
		key, err := p.readFile(keyFile)
		if err != nil {
			return model.Credential{}, fmt.Errorf("read private key for %s: %w", ref, err)
		}
		cred.PrivateKey = key
	}

	if !found {
		return model.Credential{}, fmt.Errorf("%w: no credentials configured for %q (expected %s_* variables)", model.ErrUnauthorized, ref, prefix)
	}
	return cred, nil
}

func envPrefix(ref string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(ref) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
