package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/castpoll/castpoll/app/database"
)

type seedFile struct {
	Feeds []string `yaml:"feeds"`
}

// LoadSeeds reads the startup feed list. A missing file is not an error, the
// catalog can be populated entirely through the API.
func LoadSeeds(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seeds seedFile
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return seeds.Feeds, nil
}

// RegisterSeeds registers every seed URL, idempotently. New feeds get an
// immediate next_poll_at so the first poll happens on the next dispatch tick.
func RegisterSeeds(ctx context.Context, repo database.FeedRepository, urls []string) error {
	for _, url := range urls {
		if url == "" {
			continue
		}
		if _, err := repo.CreateFeed(ctx, url); err != nil {
			return fmt.Errorf("failed to register seed feed %s: %w", url, err)
		}
	}
	if len(urls) > 0 {
		slog.Info("Registered seed feeds", "count", len(urls))
	}
	return nil
}
