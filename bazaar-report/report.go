// Package bazaarreport writes periodic JSON reports to S3, or locally in dry mode.
package bazaarreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	bazaarcli "github.com/bazaarhq/bazaar-go-utils/bazaar-cli"
	"github.com/rs/zerolog"
)

// maxLookback bounds how many days Latest searches back.
const maxLookback = 5

type GenerateCallback func(ctx context.Context) (interface{}, error)

type Reporter struct {
	service  bazaarcli.Service
	logger   zerolog.Logger
	s3       s3iface.S3API
	name     string
	generate GenerateCallback

	bucket  string
	outFile string
	stdout  io.Writer
	now     func() time.Time
}

// NewReporter builds a reporter from Opts. s3 may be nil when no bucket is set.
func NewReporter(service bazaarcli.Service, name string, s3 s3iface.S3API, generate GenerateCallback) *Reporter {
	return &Reporter{
		service:  service,
		logger:   bazaarcli.Logger(service).With().Str("report", name).Logger(),
		s3:       s3,
		name:     name,
		generate: generate,
		bucket:   Opts.Bucket,
		outFile:  Opts.OutFile,
		stdout:   os.Stdout,
		now:      time.Now,
	}
}

func (r *Reporter) WithLogger(logger zerolog.Logger) *Reporter {
	r.logger = logger.With().Str("report", r.name).Logger()
	return r
}

func ReportKey(serviceName, reportName string, timestamp time.Time) string {
	timestamp = timestamp.UTC()
	return fmt.Sprintf("%v/%v/%v/%v/%v", serviceName, reportName, timestamp.Format("2006-01-02"), timestamp.Format("15"), timestamp.Format("2006-01-02-15:04:05.json"))
}

// Write generates a report and stores it.
func (r *Reporter) Write(ctx context.Context) error {
	report, err := r.generate(ctx)
	if err != nil {
		return fmt.Errorf("generating %v report: %w", r.name, err)
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshalling %v report: %w", r.name, err)
	}

	if r.bucket == "" || bazaarcli.CommonOpts.Dry {
		return r.writeLocal(data)
	}

	key := ReportKey(r.service.Name, r.name, r.now())
	r.logger.Debug().Str("bucket", r.bucket).Str("key", key).Int("size", len(data)).Msg("saving report to s3")
	_, err = r.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("saving %v report to %v: %w", r.name, r.bucket, err)
	}
	return nil
}

func (r *Reporter) writeLocal(data []byte) error {
	if r.outFile == "" {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, data, "", "  "); err != nil {
			return err
		}
		pretty.WriteByte('\n')
		_, err := r.stdout.Write(pretty.Bytes())
		return err
	}

	if dir := path.Dir(r.outFile); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(r.outFile, data, 0644)
}

// Latest decodes the most recent report named reportName into obj, searching
// back from asOf one day at a time. It returns the key that was read.
func Latest(ctx context.Context, api s3iface.S3API, bucket, serviceName, reportName string, asOf time.Time, obj interface{}) (string, error) {
	day := asOf.UTC()
	for i := 0; i <= maxLookback; i++ {
		prefix := fmt.Sprintf("%v/%v/%v", serviceName, reportName, day.Format("2006-01-02"))
		out, err := api.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:  aws.String(bucket),
			MaxKeys: aws.Int64(1000),
			Prefix:  aws.String(prefix),
		})
		if err != nil {
			return "", fmt.Errorf("listing %v: %w", prefix, err)
		}
		if len(out.Contents) == 0 {
			day = day.AddDate(0, 0, -1)
			continue
		}

		sort.Slice(out.Contents, func(i, j int) bool {
			return aws.StringValue(out.Contents[i].Key) > aws.StringValue(out.Contents[j].Key)
		})
		key := aws.StringValue(out.Contents[0].Key)

		output, err := api.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return "", fmt.Errorf("reading %v: %w", key, err)
		}
		defer output.Body.Close()

		if err := json.NewDecoder(output.Body).Decode(obj); err != nil {
			return "", fmt.Errorf("decoding %v: %w", key, err)
		}
		return key, nil
	}
	return "", fmt.Errorf("no %v report in the %v days before %v", reportName, maxLookback, asOf.Format("2006-01-02"))
}
