// Package source acquires candidate nodes from subscription URLs and local
// files. Per-source failures are isolated: one dead subscription never stops
// the others from loading.
package source

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
	"nodesift/internal/node"
	pkgerrors "nodesift/pkg/errors"
)

// Kind selects how a source is read.
type Kind string

const (
	KindSubscription Kind = "subscription"
	KindFile         Kind = "file"
)

// Source describes one node origin.
type Source struct {
	Kind Kind   `yaml:"type"`
	URL  string `yaml:"url,omitempty"`
	Path string `yaml:"path,omitempty"`
}

func (s Source) label() string {
	if s.Kind == KindFile {
		return s.Path
	}
	return s.URL
}

// Loader loads nodes from a list of sources.
type Loader struct {
	fetcher *Fetcher
}

// NewLoader creates a Loader.
func NewLoader(fetcher *Fetcher) *Loader {
	if fetcher == nil {
		fetcher = NewFetcher(DefaultFetcherConfig())
	}
	return &Loader{fetcher: fetcher}
}

// Load fetches and parses every source in order. The returned slice preserves
// source and in-source order; duplicates are left for the dedup pass. The
// error slice carries one entry per failed source.
func (l *Loader) Load(ctx context.Context, sources []Source) ([]node.Node, []error) {
	var all []node.Node
	var errs []error

	for _, src := range sources {
		nodes, err := l.loadOne(ctx, src)
		if err != nil {
			log.WithError(err).WithField("source", src.label()).Warn("source failed")
			errs = append(errs, err)
			continue
		}
		log.WithField("source", src.label()).WithField("nodes", len(nodes)).Info("source loaded")
		all = append(all, nodes...)
	}

	return all, errs
}

func (l *Loader) loadOne(ctx context.Context, src Source) ([]node.Node, error) {
	var content []byte
	var err error

	switch src.Kind {
	case KindSubscription:
		content, err = l.fetcher.Fetch(ctx, src.URL)
	case KindFile:
		content, err = os.ReadFile(src.Path)
		if err != nil {
			err = &pkgerrors.SourceError{Source: src.Path, Err: err}
		}
	default:
		err = &pkgerrors.SourceError{
			Source: src.label(),
			Err:    fmt.Errorf("unknown source type %q", src.Kind),
		}
	}
	if err != nil {
		return nil, err
	}

	nodes := ParseContent(content)
	if len(nodes) == 0 {
		return nil, &pkgerrors.SourceError{Source: src.label(), Err: pkgerrors.ErrSourceEmpty}
	}
	return nodes, nil
}
