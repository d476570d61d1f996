package cli

import (
	"context"
	"database/sql"
	"fmt"

	"etl-catalog/internal/config"
	"etl-catalog/internal/dag"
	"etl-catalog/internal/db"
	"etl-catalog/internal/db/repository"
	"etl-catalog/internal/runner"
	"etl-catalog/internal/snapshot"
	"etl-catalog/internal/steps/example"
)

// registerSteps adds every compiled-in pipeline to reg.
func registerSteps(reg *runner.Registry) error {
	return example.Register(reg)
}

func (s *settings) loadGraph() (*dag.Graph, error) {
	g, err := dag.Load(s.cfg.DAGFile)
	if err != nil {
		return nil, fmt.Errorf("load dag: %w", err)
	}
	return g, nil
}

func (s *settings) registry() (*runner.Registry, error) {
	reg := runner.NewRegistry()
	if err := registerSteps(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// openLedger opens and migrates the run ledger.
func (s *settings) openLedger(ctx context.Context) (*sql.DB, *repository.RunRepo, error) {
	conn, err := db.OpenLedger(ctx, s.cfg.StateDB, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return conn, repository.NewRunRepo(conn), nil
}

// snapshotStore returns the configured remote store, or nil.
func (s *settings) snapshotStore(ctx context.Context) (snapshot.Store, error) {
	sc := s.cfg.SnapshotStore
	if !sc.Enabled() {
		return nil, nil
	}
	var (
		store snapshot.Store
		err   error
	)
	switch sc.Backend {
	case config.StoreGCS:
		store, err = snapshot.NewGCSStore(ctx, snapshot.GCSConfig{
			Bucket:            sc.Bucket,
			Prefix:            sc.Prefix,
			Endpoint:          sc.Endpoint,
			CredentialsFile:   sc.CredentialsFile,
			RequestsPerSecond: sc.RequestsPerSecond,
		})
	case config.StoreAzure:
		store, err = snapshot.NewAzureStore(snapshot.AzureConfig{
			Container:         sc.Bucket,
			Prefix:            sc.Prefix,
			AccountName:       sc.AccountName,
			AccountKey:        sc.AccountKey,
			Endpoint:          sc.Endpoint,
			RequestsPerSecond: sc.RequestsPerSecond,
		})
	default:
		store, err = snapshot.NewS3Store(snapshot.S3Config{
			Bucket:            sc.Bucket,
			Prefix:            sc.Prefix,
			Endpoint:          sc.Endpoint,
			Region:            sc.Region,
			KeyID:             sc.KeyID,
			Secret:            sc.Secret,
			RequestsPerSecond: sc.RequestsPerSecond,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("%s snapshot store: %w", sc.Backend, err)
	}
	s.logger.Debug("remote snapshot store", "backend", sc.Backend, "bucket", sc.Bucket)
	return store, nil
}

// newRunner wires a Runner from the checkout. ledger may be nil.
func (s *settings) newRunner(ctx context.Context, ledger *repository.RunRepo) (*runner.Runner, error) {
	g, err := s.loadGraph()
	if err != nil {
		return nil, err
	}
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	store, err := s.snapshotStore(ctx)
	if err != nil {
		return nil, err
	}
	cfg := runner.Config{
		Graph:       g,
		Registry:    reg,
		DataDir:     s.cfg.DataDir,
		SnapshotDir: s.cfg.SnapshotsDir,
		StepsDir:    s.cfg.StepsDir,
		Store:       store,
		Logger:      s.logger,
	}
	if ledger != nil {
		cfg.Ledger = ledger
	}
	return runner.New(cfg)
}
