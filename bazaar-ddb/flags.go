package bazaarddb

import (
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	Region     string
	Endpoint   string
}

var DAXClusterFlag = bazaarcli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var DAXRegionFlag = bazaarcli.StringFlag("dax-region", "Region of the DAX cluster", &DDBOpts.Region, "us-east-2")
var DDBEndpointFlag = bazaarcli.StringFlag("ddb-endpoint", "Override the DynamoDB endpoint, e.g. http://localhost:8000", &DDBOpts.Endpoint)

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	DAXRegionFlag,
	DDBEndpointFlag,
}
