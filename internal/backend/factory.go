package backend

import (
	"context"
	"fmt"
	"log/slog"

	"scadenze/internal/storage"
	"scadenze/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (Backend, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (Backend, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	if config.SeedFile != "" {
		n, err := f.seedSQLite(ctx, repo, config.SeedFile)
		if err != nil {
			repo.Close()
			return nil, err
		}
		if n > 0 {
			f.logger.Info("Imported seed into empty database", "items", n, "seed_file", config.SeedFile)
		}
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

// seedSQLite copies the seed's items and completion records into repo when
// it holds no items yet. It returns the number of items imported.
func (f *DefaultFactory) seedSQLite(ctx context.Context, repo *storage.SQLiteRepository, path string) (int, error) {
	existing, err := repo.ListRecurringItems(ctx)
	if err != nil {
		return 0, fmt.Errorf("check existing items: %w", err)
	}
	if len(existing) > 0 {
		f.logger.Debug("Database already populated, skipping seed", "items", len(existing))
		return 0, nil
	}

	seed, err := memory.NewFromFile(path)
	if err != nil {
		return 0, err
	}
	items, err := seed.ListRecurringItems(ctx)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if _, err := repo.InsertRecurringItem(ctx, item); err != nil {
			return 0, fmt.Errorf("seed item %d: %w", item.ID, err)
		}
	}
	for ym, set := range seed.Completions() {
		for _, id := range set.IDs() {
			if err := repo.MarkOccurrenceCompleted(ctx, id, ym, true); err != nil {
				return 0, fmt.Errorf("seed completion %s: %w", id, err)
			}
		}
	}
	return len(items), nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (Backend, error) {
	store, err := memory.NewFromFile(config.SeedFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed file: %w", err)
	}

	f.logger.Info("Initialized memory backend", "seed_file", config.SeedFile)
	return store, nil
}
