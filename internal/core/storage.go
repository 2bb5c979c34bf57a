package core

import (
	"context"

	"github.com/go-faster/errors"

	"tomscore/internal/infra/persistence/memory"
	"tomscore/internal/infra/persistence/postgres"
	"tomscore/internal/infra/persistence/sqlite"
	"tomscore/pkg/domain"
)

// Storage drivers accepted by OpenStorage.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StorageOptions selects the feature store backend.
type StorageOptions struct {
	Driver      string
	SQLitePath  string
	PostgresDSN string
}

// Storage is an opened store set together with its backing resource.
type Storage struct {
	Stores *Stores
	Driver string
	close  func() error
}

// Close releases the backing database, if any.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

type layerOpener struct {
	sqlite   *sqlite.Store
	postgres *postgres.Store
}

func openLayer[T domain.Entity[T]](ctx context.Context, o layerOpener, name string) (domain.Layer[T], error) {
	switch {
	case o.sqlite != nil:
		l, err := sqlite.OpenLayer[T](ctx, o.sqlite, name)
		if err != nil {
			return nil, err
		}
		return l, nil
	case o.postgres != nil:
		l, err := postgres.OpenLayer[T](ctx, o.postgres, name)
		if err != nil {
			return nil, err
		}
		return l, nil
	default:
		return memory.NewLayer[T](name), nil
	}
}

// OpenStorage opens every fixed store and one restriction store per registry
// layer on the selected backend.
func OpenStorage(ctx context.Context, opts StorageOptions, layers []domain.RestrictionLayer) (*Storage, error) {
	var (
		opener layerOpener
		closer func() error
	)
	switch opts.Driver {
	case "", DriverMemory:
		opts.Driver = DriverMemory
	case DriverSQLite:
		path := opts.SQLitePath
		if path == "" {
			path = sqlite.DefaultPath
		}
		st, err := sqlite.NewStore(ctx, path)
		if err != nil {
			return nil, errors.Wrap(err, "open sqlite storage")
		}
		opener.sqlite, closer = st, st.Close
	case DriverPostgres:
		st, err := postgres.NewStore(ctx, opts.PostgresDSN)
		if err != nil {
			return nil, errors.Wrap(err, "open postgres storage")
		}
		opener.postgres, closer = st, st.Close
	default:
		return nil, errors.Errorf("unknown storage driver %q", opts.Driver)
	}

	stores, err := openStores(ctx, opener, layers)
	if err != nil {
		if closer != nil {
			_ = closer()
		}
		return nil, err
	}
	return &Storage{Stores: stores, Driver: opts.Driver, close: closer}, nil
}

func openStores(ctx context.Context, o layerOpener, layers []domain.RestrictionLayer) (*Stores, error) {
	proposals, err := openLayer[domain.Proposal](ctx, o, StoreProposals)
	if err != nil {
		return nil, err
	}
	memberships, err := openLayer[domain.Membership](ctx, o, StoreMemberships)
	if err != nil {
		return nil, err
	}
	tiles, err := openLayer[domain.Tile](ctx, o, StoreTiles)
	if err != nil {
		return nil, err
	}
	history, err := openLayer[domain.TileRevision](ctx, o, StoreTileHistory)
	if err != nil {
		return nil, err
	}
	restrictions := make(map[string]domain.Layer[domain.Restriction], len(layers))
	for _, l := range layers {
		layer, err := openLayer[domain.Restriction](ctx, o, l.Name)
		if err != nil {
			return nil, err
		}
		restrictions[l.Name] = layer
	}
	return NewStores(proposals, memberships, tiles, history, layers, restrictions)
}
