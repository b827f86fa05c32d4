// Package main provides safesite-cli, a local operator tool that runs the
// pipeline stages against real AWS resources from a workstation.
//
// Configuration comes from the same environment variables as the Lambdas,
// optionally loaded from a .env file.
//
// Examples:
//
//	safesite-cli infer --s3-uri s3://frames/vid1/frame_00001.jpg --video vid1.mp4
//	safesite-cli detect --bucket results --key inference-results/vid1.mp4/frame_00001.json
//	safesite-cli outliers --video vid1.mp4 --limit 20
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/safesite-pipeline/internal/caller"
	"github.com/fpang/safesite-pipeline/internal/cli"
	"github.com/fpang/safesite-pipeline/internal/config"
	"github.com/fpang/safesite-pipeline/internal/detector"
	"github.com/fpang/safesite-pipeline/internal/fetcher"
	"github.com/fpang/safesite-pipeline/internal/lambdaboot"
	"github.com/fpang/safesite-pipeline/internal/logging"
	"github.com/fpang/safesite-pipeline/internal/results"
	"github.com/fpang/safesite-pipeline/internal/s3util"
)

// CLI flags
var (
	envFileFlag string
	logFileFlag string

	s3URIFlag string
	videoFlag string
	frameFlag string

	bucketFlag string
	keyFlag    string
	notifyFlag bool

	limitFlag int
	startFlag int64
	endFlag   int64
	jsonFlag  bool
)

var logFile io.Closer

var rootCmd = &cobra.Command{
	Use:   "safesite-cli",
	Short: "Run SafeSite pipeline stages locally",
	Long: `safesite-cli runs the inference caller, the outlier detector and the
outlier query against the configured AWS account, one item at a time.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.LoadEnvFile(envFileFlag); err != nil {
			return fmt.Errorf("load %s: %w", envFileFlag, err)
		}
		if logFileFlag == "" {
			logging.Init()
			return nil
		}
		logFile = logging.InitWithFile(logFileFlag)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
	SilenceUsage: true,
}

var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run inference and annotation on one frame",
	RunE:  runInfer,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Evaluate one result record for outliers",
	RunE:  runDetect,
}

var outliersCmd = &cobra.Command{
	Use:   "outliers",
	Short: "List stored outlier events, newest first",
	RunE:  runOutliers,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "File of KEY=VALUE settings to load before running")
	rootCmd.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "Also write JSON logs to this rotating file")

	inferCmd.Flags().StringVar(&s3URIFlag, "s3-uri", "", "Frame location, s3://bucket/key")
	inferCmd.Flags().StringVar(&videoFlag, "video", "", "Original video key (default: unknown-video)")
	inferCmd.Flags().StringVar(&frameFlag, "frame", "", "Frame file name (default: base name of the key)")
	_ = inferCmd.MarkFlagRequired("s3-uri")

	detectCmd.Flags().StringVar(&bucketFlag, "bucket", "", "Bucket holding the result record")
	detectCmd.Flags().StringVar(&keyFlag, "key", "", "Result record key under the results prefix")
	detectCmd.Flags().BoolVar(&notifyFlag, "notify", false, "Publish alerts and fan-out events as the Lambda would")
	_ = detectCmd.MarkFlagRequired("bucket")
	_ = detectCmd.MarkFlagRequired("key")

	outliersCmd.Flags().IntVar(&limitFlag, "limit", fetcher.DefaultLimit, "Maximum events to return")
	outliersCmd.Flags().StringVar(&videoFlag, "video", "", "Only events for this video name")
	outliersCmd.Flags().Int64Var(&startFlag, "start", 0, "Earliest timestamp, epoch seconds (0 = unbounded)")
	outliersCmd.Flags().Int64Var(&endFlag, "end", 0, "Latest timestamp, epoch seconds (0 = unbounded)")
	outliersCmd.Flags().BoolVar(&jsonFlag, "json", false, "Print the API response body instead of a table")

	rootCmd.AddCommand(inferCmd, detectCmd, outliersCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInfer(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadCaller()
	if err != nil {
		return err
	}
	aws := lambdaboot.InitAWS()
	cfg.EndpointName, err = lambdaboot.ResolveEndpointName(ctx, aws.SSM, cfg.EndpointName, cfg.EndpointParam)
	if err != nil {
		return err
	}

	frame := frameFlag
	if frame == "" {
		if _, key, err := s3util.ParseS3URI(s3URIFlag); err == nil {
			frame = path.Base(key)
		}
	}
	msg := results.FrameMessage{S3URI: s3URIFlag, OriginalVideoKey: videoFlag, FrameFile: frame}
	if msg.OriginalVideoKey == "" {
		msg.OriginalVideoKey = results.UnknownVideo
	}
	if msg.FrameFile == "" {
		msg.FrameFile = results.UnknownFrame
	}

	p := caller.NewProcessor(lambdaboot.InitS3(aws.Config), lambdaboot.InitEndpoint(aws.Config, cfg.EndpointName), cfg)
	res := p.ProcessFrame(ctx, msg)
	if res.Err != nil {
		return res.Err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "detections: %d (annotated: %v, inference %s)\n", res.Detections, res.Annotated, res.Latency.Round(time.Millisecond))
	fmt.Fprintf(cmd.OutOrStdout(), "annotated:  s3://%s/%s\n", cfg.AnnotatedBucket, res.AnnotatedKey)
	fmt.Fprintf(cmd.OutOrStdout(), "result:     s3://%s/%s\n", cfg.OutputBucket, res.ResultKey)
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadDetector()
	if err != nil {
		return err
	}
	aws := lambdaboot.InitAWS()
	objects := lambdaboot.InitS3(aws.Config)
	p := detector.NewProcessor(objects, objects, lambdaboot.InitDynamo(aws.Config, cfg.TableName), cfg)
	if notifyFlag {
		p.WithPublisher(lambdaboot.InitPublisherOptional(aws.Config, cfg.TopicARN)).
			WithEmitter(lambdaboot.InitEmitterOptional(aws.Config, cfg.EventBusName))
	}

	res := p.ProcessObject(ctx, bucketFlag, keyFlag)
	fmt.Fprintf(cmd.OutOrStdout(), "status: %s\n", cli.Status(res.Status.String()))
	if res.Event != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "event:  %s @ %d (%d outlier(s), notified: %v)\n",
			res.Event.EventID, res.Event.Timestamp, res.Event.OutlierCount, res.Notified)
	}
	return res.Err
}

func runOutliers(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFetcher()
	if err != nil {
		return err
	}
	aws := lambdaboot.InitAWS()
	h := fetcher.NewHandler(lambdaboot.InitDynamo(aws.Config, cfg.TableName), lambdaboot.InitS3(aws.Config), cfg.PresignExpiry)

	q := url.Values{}
	q.Set("limit", strconv.Itoa(limitFlag))
	if videoFlag != "" {
		q.Set("videoName", videoFlag)
	}
	if startFlag > 0 {
		q.Set("startDate", strconv.FormatInt(startFlag, 10))
	}
	if endFlag > 0 {
		q.Set("endDate", strconv.FormatInt(endFlag, 10))
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, "/?"+q.Encode(), nil)
	if err != nil {
		return err
	}

	items, err := h.List(req.Context(), req)
	if err != nil {
		return err
	}
	log.Debug().Int("events", len(items)).Msg("Outlier events fetched")

	if jsonFlag {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{"success": true, "count": len(items), "events": items})
	}
	return cli.WriteEvents(cmd.OutOrStdout(), items, time.Now())
}
