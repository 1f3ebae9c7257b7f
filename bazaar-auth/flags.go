package bazaarauth

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	bazaarsecret "github.com/bazaarhq/bazaar-go-utils/bazaar-secret"
	"github.com/urfave/cli/v2"
)

var Opts struct {
	Secret        string
	SecretName    string
	Issuer        string
	Audience      string
	IdentityClaim string
	Leeway        time.Duration
}

var Flags = []cli.Flag{
	bazaarcli.StringFlag("jwt-secret", "HMAC key used to verify tokens", &Opts.Secret),
	bazaarcli.StringFlag("jwt-secret-name", "secrets manager secret holding jwt_secret; overrides --jwt-secret", &Opts.SecretName),
	bazaarcli.StringFlag("jwt-issuer", "required token issuer", &Opts.Issuer),
	bazaarcli.StringFlag("jwt-audience", "required token audience", &Opts.Audience),
	bazaarcli.StringFlag("jwt-identity-claim", "claim holding the identity", &Opts.IdentityClaim, DefaultIdentityClaim),
	bazaarcli.DurationFlag("jwt-leeway", "clock skew allowed when checking exp and nbf", &Opts.Leeway, 30*time.Second),
}

// VerifierFromOpts builds a verifier from the parsed flags. s is only used when
// the key lives in Secrets Manager.
func VerifierFromOpts(s *session.Session) (*JWTVerifier, error) {
	secret := Opts.Secret
	if Opts.SecretName != "" {
		if s == nil {
			return nil, fmt.Errorf("secret %v requires an aws session", Opts.SecretName)
		}
		key, err := bazaarsecret.LoadSigningKey(s, Opts.SecretName)
		if err != nil {
			return nil, err
		}
		secret = key
	}

	return NewJWTVerifier(secret,
		WithIssuer(Opts.Issuer),
		WithAudience(Opts.Audience),
		WithIdentityClaim(Opts.IdentityClaim),
		WithLeeway(Opts.Leeway),
	)
}
