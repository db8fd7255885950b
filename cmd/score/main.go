// Command score runs a single transaction event through the risk engine
// and prints the assessment as JSON.
//
// Usage:
//
//	score -event event.json
//	cat event.json | score
//	score -event event.json -pretty
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/atlasrisk/atlas/internal/config"
	"github.com/atlasrisk/atlas/internal/logging"
	"github.com/atlasrisk/atlas/internal/model"
	"github.com/atlasrisk/atlas/internal/profile"
	"github.com/atlasrisk/atlas/internal/risk"
	"github.com/atlasrisk/atlas/internal/scoring"
)

func main() {
	eventPath := flag.String("event", "-", "path to the event JSON, '-' for stdin")
	pretty := flag.Bool("pretty", false, "indent the assessment output")
	flag.Parse()

	if err := run(*eventPath, *pretty); err != nil {
		fmt.Fprintf(os.Stderr, "score: %v\n", err)
		os.Exit(1)
	}
}

func run(eventPath string, pretty bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.NewWithWriter(os.Stderr, "error", "text")

	data, err := readEvent(eventPath)
	if err != nil {
		return err
	}
	var ev risk.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("malformed event: %w", err)
	}

	ctx := context.Background()
	handle := model.NewHandle(nil)
	if err := handle.Reload(ctx, model.RegistryFor(cfg.ModelPath)); err != nil {
		return err
	}

	// One-shot scoring has no history to draw on: the event is assessed
	// against population defaults.
	engine := scoring.NewEngine(profile.NewMemoryStore(), handle,
		scoring.WithLogger(logger),
		scoring.WithLatencyBudget(cfg.LatencyBudget()),
		scoring.WithTopFactors(cfg.TopFactors),
	)

	a, err := engine.Score(ctx, &ev)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(a)
}

func readEvent(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
