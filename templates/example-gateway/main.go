package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/aws/aws-sdk-go/service/s3"
	bazaarauth "github.com/bazaarhq/bazaar-go-utils/bazaar-auth"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	bazaarcron "github.com/bazaarhq/bazaar-go-utils/bazaar-cron"
	bazaarddb "github.com/bazaarhq/bazaar-go-utils/bazaar-ddb"
	bazaargql "github.com/bazaarhq/bazaar-go-utils/bazaar-gql"
	bazaarreport "github.com/bazaarhq/bazaar-go-utils/bazaar-report"
	bazaarrest "github.com/bazaarhq/bazaar-go-utils/bazaar-rest"
	bazaarws "github.com/bazaarhq/bazaar-go-utils/bazaar-ws"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/presencedao"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/publish"
	"github.com/bazaarhq/bazaar-go-utils/bazaar-ws/registry"
	"github.com/go-chi/chi/v5"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var opts struct {
	AdminToken string
	Node       string
}

type snapshot struct {
	Node  string         `json:"node"`
	At    time.Time      `json:"at"`
	Stats registry.Stats `json:"stats"`
}

var service = bazaarcli.Service{
	Name:    "bazaar-ws",
	Version: bazaarcli.CommitHash(),
}

func main() {
	hostname, _ := os.Hostname()

	flags := append(bazaarcli.CommonFlags, bazaarcli.PortFlag(bazaarcli.DefaultPort))
	flags = append(flags, bazaarws.Flags...)
	flags = append(flags, bazaarauth.Flags...)
	flags = append(flags, bazaarddb.DDBFlags...)
	flags = append(flags, bazaarreport.Flags...)
	flags = append(flags,
		bazaarcli.StringFlag("admin-token", "bearer token required to push events over http", &opts.AdminToken),
		bazaarcli.StringFlag("node", "name recorded against presence rows", &opts.Node, hostname),
	)

	app := bazaarcli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	if !bazaarcli.CommonOpts.Console {
		return fmt.Errorf("%v keeps its registry in memory and must run as a long lived process; pass --console", service.Name)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := bazaarcli.Logger(service)
	ctx = logger.WithContext(ctx)

	sess, err := session.NewSession(aws.NewConfig())
	if err != nil {
		return fmt.Errorf("creating aws session: %w", err)
	}

	verifier, err := bazaarauth.VerifierFromOpts(sess)
	if err != nil {
		return fmt.Errorf("building verifier: %w", err)
	}

	var cw bazaarcli.Metrics
	if bazaarcli.CommonOpts.Metrics {
		cw = bazaarcli.NewMetrics(service, cloudwatch.New(sess))
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := bazaarws.NewMetrics(promRegistry)

	group, ctx := errgroup.WithContext(ctx)

	registryOpts := []registry.Option{
		registry.WithLogger(logger),
		registry.WithObserver(metrics),
		registry.WithObserver(&cloudWatchObserver{ctx: ctx, metrics: cw}),
	}
	if bazaarws.Opts.Presence {
		presence, err := presenceObserver(sess, logger)
		if err != nil {
			return err
		}
		registryOpts = append(registryOpts, registry.WithObserver(presence))
		group.Go(func() error { return presence.Run(ctx) })
	}

	r := registry.New(bazaarws.ConfigFromOpts(), verifier, registryOpts...)
	metrics.Watch(r)

	gateway := &bazaarws.Gateway{
		Registry:    r,
		Logger:      logger,
		AuthTimeout: bazaarws.Opts.AuthTimeout,
	}
	management := &bazaarws.ManagementTransport{Logger: logger}
	transport := bazaarws.Transports{gateway, management}
	gateway.Evictions = transport

	apigw := &bazaarws.Handler{
		Registry:    r,
		Transport:   management,
		AuthTimeout: bazaarws.Opts.AuthTimeout,
		Logger:      logger,
		Evictions:   transport,
	}

	sweep := bazaarws.Sweeper(r, transport, func(ctx context.Context, swept int) {
		stats := r.ConnectionStats()
		cw.Gauge(ctx, bazaarcli.SweptConnectionsMetric, float64(swept))
		cw.Gauge(ctx, bazaarcli.ConnectionsMetric, float64(stats.TotalConnections))
		cw.Gauge(ctx, bazaarcli.IdentitiesMetric, float64(stats.UniqueIdentities))
	})
	var reporter *bazaarreport.Reporter
	if bazaarreport.Opts.Bucket != "" || bazaarreport.Opts.OutFile != "" {
		reporter = bazaarreport.NewReporter(service, "registry", s3.New(sess), func(context.Context) (interface{}, error) {
			return snapshot{Node: opts.Node, At: r.Now().UTC(), Stats: r.ConnectionStats()}, nil
		}).WithLogger(logger)
	}
	timedSweep := func(ctx context.Context) error {
		defer cw.Timing(ctx, bazaarcli.ResponseTimeMetric, time.Now(), map[bazaarcli.DimensionName]string{
			bazaarcli.OperationNameDimension: "sweep",
		})
		if err := sweep(ctx); err != nil {
			return err
		}
		if reporter != nil {
			return reporter.Write(ctx)
		}
		return nil
	}
	sweeper := bazaarcron.NewHandler(service, r.Config().SweepInterval, timedSweep).WithLogger(logger)
	group.Go(func() error { return sweeper.Run(ctx) })

	if bazaarws.Opts.Consume {
		dispatcher := &bazaarws.Dispatcher{Registry: r, Transport: transport, Logger: logger}
		stream := bazaarws.Opts.EventsStream
		if stream == "" {
			stream = publish.StreamName(bazaarcli.CommonOpts.Env)
		}
		group.Go(func() error {
			return dispatcher.Consume(ctx, stream,
				consumer.WithClient(kinesis.New(sess)),
				consumer.WithShardIteratorType("LATEST"),
			)
		})
	}

	relay, err := bazaargql.Relay(&bazaarws.Resolver{Registry: r, Transport: transport})
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	api := &bazaarws.API{
		Registry:   r,
		Transport:  transport,
		Gateway:    gateway,
		APIGateway: apigw,
		GraphQL:    relay,
		Gatherer:   promRegistry,
		AdminToken: opts.AdminToken,
	}
	api.Mount(router)

	group.Go(func() error {
		return bazaarrest.Webserver(ctx, service, bazaarrest.Middlewares(service, router))
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return gateway.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func presenceObserver(sess *session.Session, logger zerolog.Logger) (*presencedao.Observer, error) {
	api, err := bazaarddb.DynamoDBAPI(sess)
	if err != nil {
		return nil, fmt.Errorf("building dynamodb client: %w", err)
	}

	dao := presencedao.Build(api, bazaarcli.CommonOpts.Env)
	if bazaarws.Opts.PresenceTable != "" {
		dao = presencedao.New(api, bazaarws.Opts.PresenceTable)
	}

	ttl := time.Hour
	if lifetime := bazaarws.Opts.ConnectionMaxLifetime; lifetime > 0 {
		ttl = lifetime + bazaarws.Opts.SweepInterval
	}
	return presencedao.NewObserver(dao, opts.Node, ttl, logger, 0), nil
}
