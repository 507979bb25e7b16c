// Package cli wires the racereg commands: the HTTP service and the
// administrative helpers that share its configuration.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"racereg/internal/auth"
	"racereg/internal/config"
	"racereg/internal/coupons"
	"racereg/internal/handlers"
	"racereg/internal/logging"
	"racereg/internal/notify"
	"racereg/internal/payments"
	"racereg/internal/store"
)

// Store is everything the commands need from a storage backend. Both the
// PostgreSQL and the BoltDB stores implement it.
type Store interface {
	handlers.Store
	payments.Store
	notify.Store
	coupons.Repository
	auth.AdminStore
	Close() error
}

var (
	_ Store = (*store.Database)(nil)
	_ Store = (*store.BoltStore)(nil)
)

func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "racereg",
		Short:         "Race registration and payment service",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.Flags(root.PersistentFlags())

	root.AddCommand(serveCmd())
	root.AddCommand(adminCmd())
	root.AddCommand(couponCmd())
	return root
}

func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration, installs the logger and opens the store.
func setup(ctx context.Context, cmd *cobra.Command) (*config.Config, Store, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.CheckStore(); err != nil {
		return nil, nil, err
	}
	log, err := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, nil, err
	}
	logging.Logg = log

	s, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func openStore(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case "bolt":
		s, err := store.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return s, nil
	default:
		db, err := store.NewDatabase(ctx, cfg.DBDsn)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		return db, nil
	}
}
