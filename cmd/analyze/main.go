// Package main is a command line front end to the people counting pipeline.
package main

import (
	"context"
	"encoding/json"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"crowdcounter/internal/config"
	"crowdcounter/internal/dto"
	"crowdcounter/internal/errs"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/service"
	"crowdcounter/internal/service/ai"
	"crowdcounter/internal/service/storage"

	"github.com/urfave/cli/v2"
)

const (
	flagImage     = "image"
	flagVideo     = "video"
	flagMethod    = "method"
	flagROI       = "roi"
	flagThreshold = "threshold"
	flagVerbose   = "verbose"
)

func main() {
	app := &cli.App{
		Name:  "analyze",
		Usage: "count people in an image or video",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagImage, Usage: "analyze the image at `FILE`"},
			&cli.StringFlag{Name: flagVideo, Usage: "analyze the video at `FILE`"},
			&cli.StringFlag{Name: flagMethod, Value: "full", Usage: "video method: full or single"},
			&cli.StringFlag{Name: flagROI, Usage: "restrict detection to `x1,y1,x2,y2`"},
			&cli.Float64Flag{Name: flagThreshold, Value: -1, Usage: "confidence threshold in [0,1], default from config"},
			&cli.BoolFlag{Name: flagVerbose, Aliases: []string{"v"}, Usage: "write logs to LOG_DIR"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	image, video := c.String(flagImage), c.String(flagVideo)
	if (image == "") == (video == "") {
		return cli.Exit("exactly one of --image or --video is required", 2)
	}

	cfg := config.Load()
	req := dto.AnalysisRequest{Threshold: cfg.ConfidenceThreshold}
	if t := c.Float64(flagThreshold); t >= 0 {
		req.Threshold = t
	}
	if roi := c.String(flagROI); roi != "" {
		region, err := parseROI(roi)
		if err != nil {
			return cli.Exit(err, 2)
		}
		req.Region = &region
	}

	lg := logger.NewDiscard()
	if c.Bool(flagVerbose) {
		lg = logger.NewLogger(cfg)
	}
	defer lg.Close()

	pool, err := ai.NewPool(cfg, lg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	defer pool.Close()
	store, err := storage.NewStore(cfg, lg)
	if err != nil {
		return cli.Exit(err, 1)
	}
	manager := service.NewManager(cfg, service.Dependencies{Detector: pool, Store: store, Logger: lg})
	defer manager.Stop()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out interface{}
	if image != "" {
		req.Source = image
		out, err = analyzeImage(ctx, manager, req)
	} else {
		req.Source = video
		req.Method, err = dto.ParseMethod(c.String(flagMethod))
		if err != nil {
			return cli.Exit(err, 2)
		}
		out, err = analyzeVideo(ctx, manager, req)
	}
	if err != nil {
		return cli.Exit(err, exitCode(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func analyzeImage(ctx context.Context, manager *service.Manager, req dto.AnalysisRequest) (interface{}, error) {
	result, err := manager.AnalyzeImage(ctx, req)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"people_count": result.Count,
		"result_image": result.ArtifactPath,
	}, nil
}

func analyzeVideo(ctx context.Context, manager *service.Manager, req dto.AnalysisRequest) (interface{}, error) {
	outcome, err := manager.AnalyzeVideo(ctx, req)
	if err != nil {
		return nil, err
	}
	if outcome.Method == dto.MethodSingle {
		return map[string]interface{}{
			"people_count": outcome.Single.Count,
			"frame_index":  outcome.Single.FrameIndex,
			"result_image": outcome.Single.ArtifactPath,
		}, nil
	}
	full := outcome.Full
	return map[string]interface{}{
		"people_count":   full.Peak,
		"peak_frame":     full.PeakFrame,
		"frame_counts":   full.FrameCounts,
		"sampled_frames": full.SampledFrames,
		"total_frames":   full.TotalFrames,
		"truncated":      full.Truncated,
		"mean":           full.Mean(),
		"median":         full.Median(),
		"sum":            full.Sum(),
		"result_video":   full.ArtifactPath,
	}, nil
}

// parseROI reads "x1,y1,x2,y2". Fractional values are rounded to the nearest pixel.
func parseROI(s string) (dto.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return dto.Region{}, errs.Validation("roi %q must be x1,y1,x2,y2", s)
	}
	v := make([]int, 4)
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return dto.Region{}, errs.Validation("roi coordinate %q is not a number", p)
		}
		v[i] = int(math.Round(f))
	}
	return dto.Region{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}, nil
}

// exitCode is 2 for input mistakes and 1 for everything else.
func exitCode(err error) int {
	if status := errs.HTTPStatus(err); status >= 400 && status < 500 {
		return 2
	}
	return 1
}
