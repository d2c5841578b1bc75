package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/docflow-cli/internal/consolidate"
	"github.com/sells-group/docflow-cli/internal/extract"
	"github.com/sells-group/docflow-cli/internal/orchestrator"
	"github.com/sells-group/docflow-cli/internal/registry"
	"github.com/sells-group/docflow-cli/internal/review"
	"github.com/sells-group/docflow-cli/internal/store"
	"github.com/sells-group/docflow-cli/pkg/anthropic"
)

// pipelineEnv bundles the engines a command needs, built once per run.
type pipelineEnv struct {
	Store    store.Store
	Master   *consolidate.Engine
	Review   *review.Engine
	Registry *registry.Engine
	Orch     *orchestrator.Orchestrator
}

func (e *pipelineEnv) Close() {
	_ = e.Store.Close()
}

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	case "sqlite", "":
		st, err = store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

func initEnv(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	extractor := extract.New(anthropic.NewClient(cfg.Anthropic.Key), extract.Options{
		Model:               cfg.Anthropic.Model,
		MaxTokens:           cfg.Extract.MaxTokens,
		ConfidenceThreshold: cfg.Extract.ConfidenceThreshold,
		RateQPS:             cfg.Extract.RateQPS,
		Prompt:              cfg.Extract.Prompt,
		SchemaFields:        cfg.Extract.SchemaFields,
		MaxRetries:          cfg.Batch.MaxRetries,
	})

	blobs, err := orchestrator.NewLocalBlobStore(cfg.Store.BlobDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	master := consolidate.New(st)
	return &pipelineEnv{
		Store:    st,
		Master:   master,
		Review:   review.New(st, master, cfg.Review.ConfirmCode),
		Registry: registry.New(st),
		Orch:     orchestrator.New(st, extractor, blobs),
	}, nil
}
