package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	bazaarauth "github.com/bazaarhq/bazaar-go-utils/bazaar-auth"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/urfave/cli/v2"
)

var opts struct {
	Identity string
	TTL      time.Duration
}

var service = bazaarcli.NewService("example-token")

func main() {
	flags := append(bazaarcli.CommonFlags, bazaarauth.Flags...)
	flags = append(flags,
		bazaarcli.StringFlag("identity", "identity the token is issued to", &opts.Identity),
		bazaarcli.DurationFlag("ttl", "token lifetime", &opts.TTL, time.Hour),
	)

	app := bazaarcli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(_ *cli.Context) error {
	var sess *session.Session
	if bazaarauth.Opts.SecretName != "" {
		s, err := session.NewSession(aws.NewConfig())
		if err != nil {
			return fmt.Errorf("creating aws session: %w", err)
		}
		sess = s
	}

	verifier, err := bazaarauth.VerifierFromOpts(sess)
	if err != nil {
		return err
	}

	token, err := verifier.Issue(opts.Identity, opts.TTL)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
