package bazaarreport

import (
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/urfave/cli/v2"
)

var Opts struct {
	Bucket  string
	OutFile string
}

var BucketFlag = bazaarcli.StringFlag("report-bucket", "The bucket to write registry snapshots to", &Opts.Bucket)
var OutFileFlag = bazaarcli.StringFlag("report-out-file", "The file to write snapshots to when no bucket is set or in dry mode", &Opts.OutFile)

var Flags = []cli.Flag{
	BucketFlag,
	OutFileFlag,
}
