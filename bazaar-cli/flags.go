package bazaarcli

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

const DefaultPort = 8080

var CommonOpts struct {
	Console bool
	Dry     bool
	Env     string
	Port    int
	Metrics bool
}

var ConsoleFlag = cli.BoolFlag{
	Name:        "console",
	Usage:       "whether to run in console mode or lambda mode",
	Value:       false,
	EnvVars:     []string{"CONSOLE"},
	Destination: &CommonOpts.Console,
}
var DryFlag = cli.BoolFlag{
	Name:        "dry",
	Usage:       "whether to actually persist any records or not",
	Value:       false,
	EnvVars:     []string{"DRY"},
	Destination: &CommonOpts.Dry,
}
var EnvFlag = cli.StringFlag{
	Name:        "env",
	Usage:       "environment",
	Value:       "local",
	EnvVars:     []string{"ENV"},
	Destination: &CommonOpts.Env,
}
var CloudWatchFlag = cli.BoolFlag{
	Name:        "cloudwatch",
	Usage:       "publish gauges to cloudwatch",
	Value:       false,
	EnvVars:     []string{"CLOUDWATCH"},
	Destination: &CommonOpts.Metrics,
}
var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen to, if running locally",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

var CommonFlags = []cli.Flag{
	&ConsoleFlag,
	&DryFlag,
	&EnvFlag,
	&CloudWatchFlag,
}

// envVar derives the environment variable for a flag name, e.g. jwt-secret => JWT_SECRET.
func envVar(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func StringFlag(name, usage string, dest *string, value ...string) *cli.StringFlag {
	f := &cli.StringFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
	if len(value) > 0 {
		f.Value = value[0]
	}
	return f
}

func BoolFlag(name, usage string, dest *bool) *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
}

func IntFlag(name, usage string, dest *int, value ...int) *cli.IntFlag {
	f := &cli.IntFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
	if len(value) > 0 {
		f.Value = value[0]
	}
	return f
}

func DurationFlag(name, usage string, dest *time.Duration, value ...time.Duration) *cli.DurationFlag {
	f := &cli.DurationFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: dest,
	}
	if len(value) > 0 {
		f.Value = value[0]
	}
	return f
}
