package main

import (
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nspawnhost/nspawnd/pkg/catalog"
	"github.com/nspawnhost/nspawnd/pkg/config"
	"github.com/nspawnhost/nspawnd/pkg/fsmutate"
	"github.com/nspawnhost/nspawnd/pkg/hostinspect"
	"github.com/nspawnhost/nspawnd/pkg/hostinvoker"
	"github.com/nspawnhost/nspawnd/pkg/lifecycle"
	"github.com/nspawnhost/nspawnd/pkg/portforward"
	"github.com/nspawnhost/nspawnd/pkg/provision"
	"github.com/nspawnhost/nspawnd/pkg/registry"
	"github.com/nspawnhost/nspawnd/pkg/storage"
)

// app bundles every collaborator a subcommand needs, wired against the
// real host filesystem, the real Host Invoker, and an on-disk BoltDB
// store.
type app struct {
	cfg        *config.Config
	store      *storage.BoltStore
	invoker    *hostinvoker.Invoker
	catalog    *catalog.Catalog
	mutator    *fsmutate.Mutator
	inspector  *hostinspect.Inspector
	lifecycle  *lifecycle.Controller
	registry   *registry.Registry
	portfwd    *portforward.Store
	pipeline   *provision.Pipeline
}

func newApp(cmd *cobra.Command) (*app, func(), error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, err
	}

	store, err := storage.NewBoltStore(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}

	cat, err := catalog.Load()
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	fs := afero.NewOsFs()
	invoker := hostinvoker.New()
	mutator := fsmutate.New(fs)
	insp := hostinspect.New(invoker, cat, cfg.MachinesDir)
	ctrl := lifecycle.New(invoker, mutator, store, fs, cfg.MachinesDir, cfg.UnitsDir)
	reg := registry.New()
	pf := portforward.New(invoker, store)

	pipeline := &provision.Pipeline{
		Invoker:     invoker,
		Catalog:     cat,
		Mutator:     mutator,
		Inspector:   insp,
		Lifecycle:   ctrl,
		Registry:    reg,
		Store:       store,
		FS:          fs,
		MachinesDir: cfg.MachinesDir,
		UnitsDir:    cfg.UnitsDir,
		Bridge:      cfg.Bridge,
	}

	a := &app{
		cfg:       cfg,
		store:     store,
		invoker:   invoker,
		catalog:   cat,
		mutator:   mutator,
		inspector: insp,
		lifecycle: ctrl,
		registry:  reg,
		portfwd:   pf,
		pipeline:  pipeline,
	}

	cleanup := func() {
		reg.Stop()
		store.Close()
	}
	return a, cleanup, nil
}
