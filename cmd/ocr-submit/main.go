/**
 * OCR Submit - enqueue recognition jobs from the command line
 *
 * Usage:
 *   ocr-submit -backend tesseract page.png
 *   ocr-submit -voting -backends vision-fast,vision-accurate -wait scan.jpg
 *   ocr-submit -backend tesseract -enhanced -wait p1.png p2.png p3.png
 *   ocr-submit -stats
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/adverant/nexus/ocr-worker/internal/processor"
	"github.com/adverant/nexus/ocr-worker/internal/queue"
)

var (
	redisURL  = flag.String("redis", "", "Redis URL (default: $REDIS_URL)")
	queueName = flag.String("queue", "", "queue name (default: $QUEUE_NAME or ocr)")
	backend   = flag.String("backend", "", "backend for single and batch jobs")
	backendsF = flag.String("backends", "", "comma-separated backends to vote across (default: all usable)")
	voting    = flag.Bool("voting", false, "vote across backends")
	language  = flag.String("language", "", "language hint, e.g. en or deu")
	enhanced  = flag.Bool("enhanced", false, "preprocess images before recognition")
	wait      = flag.Bool("wait", false, "wait for the job to finish and print the text")
	timeout   = flag.Duration("timeout", 10*time.Minute, "how long -wait waits")
	stats     = flag.Bool("stats", false, "print job counts and exit")
)

func main() {
	_ = godotenv.Load(".env.ocr")
	flag.Parse()

	if *stats {
		if err := printStats(); err != nil {
			color.Red("Error: %v", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: ocr-submit [flags] image...")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if err := run(flag.Args()); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func run(paths []string) error {
	job, err := buildJob(paths)
	if err != nil {
		return err
	}

	client, err := queue.NewTaskClient(resolvedRedisURL(), resolvedQueue())
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	info, err := client.Enqueue(ctx, job)
	if err != nil {
		return err
	}
	color.Cyan("Enqueued job %s (%d image(s), queue %s)", job.JobID, len(job.Images), info.Queue)

	if !*wait {
		return nil
	}

	result, err := client.Wait(ctx, info.ID, time.Second)
	if err != nil {
		return err
	}

	color.Green("Job %s completed in %dms: backend=%s confidence=%.3f cacheHits=%d",
		result.JobID, result.ProcessingTimeMs, result.Backend, result.Confidence, result.CacheHits)
	for _, r := range result.Results {
		header := fmt.Sprintf("[%d] %s", r.Index, paths[r.Index])
		if r.Failed() {
			color.Red("%s failed: %s", header, r.Error)
			continue
		}
		color.Yellow("%s via %s (confidence %.3f)", header, r.Backend, r.Confidence)
		if r.Voting != nil {
			fmt.Printf("    voted: %s, score %.3f\n", strings.Join(r.Voting.EnginesUsed, ", "), r.Voting.SelectedScore)
		}
		fmt.Println(r.Text)
	}
	return nil
}

func printStats() error {
	events, err := queue.NewEventPublisher(resolvedRedisURL(), resolvedQueue())
	if err != nil {
		return err
	}
	defer events.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	counts, err := events.GetStats(ctx)
	if err != nil {
		return err
	}
	color.Cyan("Queue %s", resolvedQueue())
	color.Yellow("  processing: %d", counts["processing"])
	color.Green("  completed:  %d", counts["completed"])
	color.Red("  failed:     %d", counts["failed"])
	return nil
}

func buildJob(paths []string) (*queue.JobData, error) {
	job := &queue.JobData{
		Backend:  *backend,
		Language: *language,
		Enhanced: *enhanced,
		Voting:   *voting,
	}
	if *backendsF != "" {
		for _, b := range strings.Split(*backendsF, ",") {
			if b = strings.TrimSpace(b); b != "" {
				job.Backends = append(job.Backends, b)
			}
		}
	}

	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		job.Images = append(job.Images, data)
	}

	switch {
	case len(job.Images) > 1:
		job.Mode = processor.ModeBatch
	case *voting || *backend == "":
		job.Mode = processor.ModeVoting
	default:
		job.Mode = processor.ModeSingle
	}
	return job, nil
}

func resolvedRedisURL() string {
	return firstNonEmpty(*redisURL, os.Getenv("REDIS_URL"), "redis://localhost:6379")
}

func resolvedQueue() string {
	return firstNonEmpty(*queueName, os.Getenv("QUEUE_NAME"), "ocr")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
