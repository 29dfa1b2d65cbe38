// Package linker wires a registry, a unit archive and the generators that
// share them (bound handles, combinator forms and lambdas) from a
// configuration.
package linker

import (
	"context"
	"fmt"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/linkage/archive"
	"github.com/chazu/linkage/bound"
	"github.com/chazu/linkage/config"
	"github.com/chazu/linkage/forms"
	"github.com/chazu/linkage/lambda"
	"github.com/chazu/linkage/species"
	"github.com/chazu/linkage/vm"
	"github.com/chazu/linkage/vm/emit"
)

var log = commonlog.GetLogger("linkage")

// Linker owns one registry and everything generating into it.
type Linker struct {
	cfg      *config.Config
	registry *vm.Registry
	archive  archive.Archive
	binder   *bound.Binder
	forms    *forms.Compiler
	lambdas  *lambda.Metafactory
}

// Open builds a linker. A nil cfg means config.Default, without
// environment overrides; config.Load and FindAndLoad apply them.
func Open(cfg *config.Config) (*Linker, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Log.Apply()

	l := &Linker{cfg: cfg, registry: vm.NewRegistry()}
	var arch species.Archive
	switch cfg.Archive.Backend {
	case config.BackendMemory:
		l.archive = archive.NewMemory()
	case config.BackendSQLite:
		db, err := archive.OpenSQLite(cfg.ArchivePath())
		if err != nil {
			return nil, err
		}
		l.archive = db
	}
	if l.archive != nil {
		arch = l.archive
	}

	emitter := emit.Encoder{}
	binder, err := bound.NewBinder(l.registry, bound.Options{
		Emitter:        emitter,
		Archive:        arch,
		PrewarmWorkers: cfg.Prewarm.Workers,
	})
	if err != nil {
		l.Close()
		return nil, fmt.Errorf("linker: %w", err)
	}
	l.binder = binder
	l.forms = forms.NewCompiler(l.registry, emitter)
	l.lambdas = lambda.NewMetafactory(l.registry, emitter)
	log.Infof("opened with %s archive", cfg.Archive.Backend)
	return l, nil
}

func (l *Linker) Config() *config.Config       { return l.cfg }
func (l *Linker) Registry() *vm.Registry       { return l.registry }
func (l *Linker) Binder() *bound.Binder        { return l.binder }
func (l *Linker) Forms() *forms.Compiler       { return l.forms }
func (l *Linker) Lambdas() *lambda.Metafactory { return l.lambdas }
func (l *Linker) Archive() archive.Archive     { return l.archive }

// Prewarm generates the configured bound-handle shapes.
func (l *Linker) Prewarm(ctx context.Context) error {
	if len(l.cfg.Prewarm.Shapes) == 0 {
		return nil
	}
	return l.binder.Prewarm(ctx, l.cfg.Prewarm.Shapes)
}

// Close releases the archive.
func (l *Linker) Close() error {
	if l.archive == nil {
		return nil
	}
	return l.archive.Close()
}
