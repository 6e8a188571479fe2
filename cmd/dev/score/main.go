// Command score runs the configured scorer once against a resume and a job
// description read from files. It is meant for trying prompts and providers
// without the queue in the way.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/garnizeh/cvpipe/internal/config"
	"github.com/garnizeh/cvpipe/internal/scoring"
	"github.com/garnizeh/cvpipe/pkg/ollama"
)

func main() {
	configPath := flag.String("config", "", "Path to config YAML file")
	resumePath := flag.String("resume", "", "File holding the resume text")
	jobPath := flag.String("job", "", "File holding the job description")
	listModels := flag.Bool("models", false, "List models on the configured ollama server and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if *listModels {
		if err := printModels(ctx, cfg.Scoring.Ollama); err != nil {
			log.Fatal(err)
		}
		return
	}

	resume, err := readText(*resumePath)
	if err != nil {
		log.Fatalf("resume: %v", err)
	}
	job, err := readText(*jobPath)
	if err != nil {
		log.Fatalf("job: %v", err)
	}

	scorer, err := scoring.NewScorer(cfg.Scoring)
	if err != nil {
		log.Fatalf("Failed to build scorer: %v", err)
	}
	if c, ok := scorer.(io.Closer); ok {
		defer c.Close()
	}

	res, err := scorer.Score(ctx, scoring.Input{ResumeText: resume, JobDescription: job})
	if err != nil {
		log.Fatalf("score: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Fatal(err)
	}
}

func printModels(ctx context.Context, cfg ollama.Config) error {
	client, err := ollama.NewDefaultClient(cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	models, err := client.ListModels(ctx)
	if err != nil {
		return err
	}
	for _, m := range models {
		fmt.Printf("%s\t%d\n", m.Name, m.Size)
	}
	return nil
}

// readText reads path, or stdin when path is "-". An empty path yields "".
func readText(path string) (string, error) {
	switch path {
	case "":
		return "", nil
	case "-":
		b, err := io.ReadAll(os.Stdin)
		return string(b), err
	default:
		b, err := os.ReadFile(path)
		return string(b), err
	}
}
