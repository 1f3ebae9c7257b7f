// Package bazaarsecret provides AWS Secrets Manager integration for loading
// configuration secrets into Go structs.
package bazaarsecret

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/secretsmanager"
	"github.com/savaki/secrets"
)

func LoadSecret(s *session.Session, secretName string, data interface{}) error {
	api := secrets.WithSecretsManager(secretsmanager.New(s))
	manager, err := secrets.NewManager(api)
	if err != nil {
		return fmt.Errorf("failed to initialize secrets: %w", err)
	}

	if err := manager.Decode(secretName, data); err != nil {
		return fmt.Errorf("failed to load secret %v: %w", secretName, err)
	}
	return nil
}

// SigningKey is the shape of the secret holding the token signing key.
type SigningKey struct {
	Secret string `json:"jwt_secret"`
}

// LoadSigningKey reads the token signing key stored under secretName.
func LoadSigningKey(s *session.Session, secretName string) (string, error) {
	var key SigningKey
	if err := LoadSecret(s, secretName, &key); err != nil {
		return "", err
	}
	if key.Secret == "" {
		return "", fmt.Errorf("secret %v has no jwt_secret", secretName)
	}
	return key.Secret, nil
}
