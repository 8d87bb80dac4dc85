package conf

import (
	"context"
	"os"

	"github.com/bubblelab/bubblenet/internal/buildinfo"
	"github.com/bubblelab/bubblenet/internal/datastore"
	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/localization"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/observability"
	"github.com/bubblelab/bubblenet/internal/textdata"
)

// Context carries what every command shares once settings are loaded.
type Context struct {
	Settings *Settings
	Metrics  *observability.Metrics
	Build    *buildinfo.Context
}

// NewContext returns a context holding default settings until the root
// command loads the real ones.
func NewContext(build *buildinfo.Context) *Context {
	return &Context{Settings: DefaultSettings(), Build: build}
}

// OpenStore opens the configured event store.
func (c *Context) OpenStore() (*datastore.Store, error) {
	s := c.Settings.Dataset.Store
	var opts []datastore.Option
	if c.Metrics != nil {
		opts = append(opts, datastore.WithMetrics(c.Metrics.Datastore))
	}
	return datastore.Open(datastore.Config{
		Driver:    s.Driver,
		DSN:       s.DSN,
		BatchSize: s.BatchSize,
		SlowQuery: s.SlowQuery,
	}, opts...)
}

// LoadEvents reads events from the configured descriptor file, or from the
// event store when no file is set.
func (c *Context) LoadEvents(ctx context.Context) ([]events.BubbleEvent, error) {
	d := &c.Settings.Dataset
	if d.Input != "" {
		return readEventFile(d.Input, d.Mapping)
	}
	store, err := c.OpenStore()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			GetLogger().Warn("closing event store", logger.Error(err))
		}
	}()
	return store.Events(ctx, d.Mapping)
}

func readEventFile(path string, m events.Mapping) ([]events.BubbleEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path)
	}
	defer f.Close()

	rd, err := textdata.NewReader(f)
	if err != nil {
		return nil, err
	}
	binding, err := m.Bind(rd.Schema())
	if err != nil {
		return nil, err
	}
	var out []events.BubbleEvent
	if _, err := rd.ForEach(func(r textdata.Record) error {
		out = append(out, binding.Event(&r))
		return nil
	}); err != nil {
		return nil, err
	}
	GetLogger().Debug("read event file", logger.String("path", path), logger.Int("events", len(out)))
	return out, nil
}

// NewSolver builds the configured sensor geometry and solver.
func (c *Context) NewSolver() (*localization.Solver, error) {
	l := &c.Settings.Localization
	g, err := localization.NewGeometry(l.SensorPoints(), l.Speed)
	if err != nil {
		return nil, err
	}
	if g.Coplanar() {
		GetLogger().Warn("sensors are coplanar, solutions are mirror-ambiguous")
	}
	var opts []localization.SolverOption
	if c.Metrics != nil {
		opts = append(opts, localization.WithMetrics(c.Metrics.Localization))
	}
	return localization.NewSolver(g, l.SolverOptions(), opts...)
}
