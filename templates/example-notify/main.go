package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/kinesis"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/publish"
	"github.com/urfave/cli/v2"
)

var opts struct {
	Identity string
	Event    string
	Payload  string
	Stream   string
}

var service = bazaarcli.NewService("example-notify")

func main() {
	app := bazaarcli.App(
		service,
		action,
		append(
			bazaarcli.CommonFlags,
			bazaarcli.StringFlag("identity", "identity to notify", &opts.Identity),
			bazaarcli.StringFlag("event", "event name", &opts.Event, "notification"),
			bazaarcli.StringFlag("payload", "json payload", &opts.Payload, "{}"),
			bazaarcli.StringFlag("stream", "kinesis stream; defaults to the env stream", &opts.Stream),
		)...,
	)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	logger := bazaarcli.Logger(service)
	ctx := logger.WithContext(c.Context)

	if !json.Valid([]byte(opts.Payload)) {
		return fmt.Errorf("payload is not valid json: %v", opts.Payload)
	}

	stream := opts.Stream
	if stream == "" {
		stream = publish.StreamName(bazaarcli.CommonOpts.Env)
	}

	if bazaarcli.CommonOpts.Dry {
		logger.Info().Str("identity", opts.Identity).Str("event", opts.Event).Str("stream", stream).Msg("dry run, not publishing")
		return nil
	}

	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return fmt.Errorf("creating aws session: %w", err)
	}

	publisher := publish.New(kinesis.New(sess), stream)
	if err := publisher.Send(ctx, opts.Identity, opts.Event, json.RawMessage(opts.Payload)); err != nil {
		return err
	}

	logger.Info().Str("identity", opts.Identity).Str("event", opts.Event).Msg("event published")
	return nil
}
