package main

import (
	"context"
	"fmt"

	memassemblyrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/assemblyrepo"
	memdroidrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/droidrepo"
	memeventrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/eventrepo"
	memgenesisrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/genesisrepo"
	memidempotency "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/idempotency"
	memmlrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/mlrepo"
	mempersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/personarepo"
	memsessionrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/memory/sessionrepo"
	postgres "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres"
	pgassemblyrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/assemblyrepo"
	pgdroidrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/droidrepo"
	pgeventrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/eventrepo"
	pggenesisrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/genesisrepo"
	pgidempotency "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/idempotency"
	pgmlrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/mlrepo"
	pgpersonarepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/personarepo"
	pgsessionrepo "github.com/cde-ev/cdedb2-sub001/internal/adapters/postgres/sessionrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/platform/config"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/assemblyrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/droidrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/eventrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/genesisrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/idempotency"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/mlrepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/personarepo"
	"github.com/cde-ev/cdedb2-sub001/internal/ports/out/sessionrepo"
)

// storage bundles the repositories of one backend.
type storage struct {
	personas   personarepo.Repository
	sessions   sessionrepo.Repository
	droids     droidrepo.Repository
	genesis    genesisrepo.Repository
	events     eventrepo.Repository
	ml         mlrepo.Repository
	assemblies assemblyrepo.Repository
	idem       idempotency.Store

	close func()
}

func openStorage(ctx context.Context, cfg config.Config) (storage, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return storage{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return storage{}, fmt.Errorf("migrate: %w", err)
		}
		return storage{
			personas:   pgpersonarepo.NewRepo(pool),
			sessions:   pgsessionrepo.NewRepo(pool),
			droids:     pgdroidrepo.NewRepo(pool),
			genesis:    pggenesisrepo.NewRepo(pool),
			events:     pgeventrepo.NewRepo(pool),
			ml:         pgmlrepo.NewRepo(pool),
			assemblies: pgassemblyrepo.NewRepo(pool),
			idem:       pgidempotency.NewStore(pool),
			close:      pool.Close,
		}, nil
	default:
		return storage{
			personas:   mempersonarepo.NewRepo(),
			sessions:   memsessionrepo.NewRepo(),
			droids:     memdroidrepo.NewRepo(),
			genesis:    memgenesisrepo.NewRepo(),
			events:     memeventrepo.NewRepo(),
			ml:         memmlrepo.NewRepo(),
			assemblies: memassemblyrepo.NewRepo(),
			idem:       memidempotency.NewStore(),
			close:      func() {},
		}, nil
	}
}
