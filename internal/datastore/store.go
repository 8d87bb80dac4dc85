package datastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bubblelab/bubblenet/internal/errors"
	"github.com/bubblelab/bubblenet/internal/events"
	"github.com/bubblelab/bubblenet/internal/logger"
	"github.com/bubblelab/bubblenet/internal/observability/metrics"
	"github.com/bubblelab/bubblenet/internal/textdata"
)

// ErrNoSchema is returned when reading from a store that holds no table yet.
var ErrNoSchema = errors.NewStd("store holds no schema")

// DefaultBatchSize is the number of rows per insert statement.
const DefaultBatchSize = 500

// Config selects and tunes the database.
type Config struct {
	Driver    string // "sqlite" or "mysql"
	DSN       string
	BatchSize int
	// SlowQuery marks statements slower than this as warnings; zero disables.
	SlowQuery time.Duration
}

// Store reads and writes one event table.
type Store struct {
	db        *gorm.DB
	log       logger.Logger
	metrics   *metrics.DatastoreMetrics
	batchSize int
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics records operation counts and durations.
func WithMetrics(m *metrics.DatastoreMetrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger replaces the package logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// GetLogger returns the datastore package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("datastore")
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}

// Open connects to the configured database and migrates the tables.
func Open(cfg Config, opts ...Option) (*Store, error) {
	s := &Store{log: GetLogger(), batchSize: cfg.BatchSize}
	for _, o := range opts {
		o(s)
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, errors.Newf("unsupported database driver %q", cfg.Driver).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.NewGormLoggerAdapter(s.log, cfg.SlowQuery),
	})
	if err != nil {
		return nil, dbError(fmt.Errorf("failed to open %s database: %w", cfg.Driver, err), "open")
	}
	s.db = db

	if err := db.AutoMigrate(&Attribute{}, &Event{}, &Metadata{}); err != nil {
		_ = s.Close()
		return nil, dbError(fmt.Errorf("failed to migrate tables: %w", err), "migrate")
	}
	s.log.Debug("event store opened", logger.String("driver", dialector.Name()))
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return dbError(err, "close")
	}
	return sqlDB.Close()
}

func (s *Store) observe(operation string, start time.Time, err error) {
	s.metrics.RecordOperation(operation, time.Since(start), err)
}

// SaveSchema replaces the stored table, dropping any previous records.
func (s *Store) SaveSchema(ctx context.Context, schema *textdata.Schema) (err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpSaveSchema, start, err) }()

	rows := make([]Attribute, len(schema.Attributes))
	for i, a := range schema.Attributes {
		rows[i] = Attribute{
			Position: i,
			Name:     a.Name,
			Dims:     joinDims(a.Dims),
			Elements: a.Elements,
			Kind:     a.Kind.String(),
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Event{}, &Attribute{}, &Metadata{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return err
			}
		}
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return tx.Create(&Metadata{Name: descriptionKey, Value: schema.Description}).Error
	})
	if err != nil {
		return dbError(fmt.Errorf("saving schema: %w", err), metrics.OpSaveSchema)
	}
	return nil
}

// SaveRecords appends records in batches inside one transaction.
func (s *Store) SaveRecords(ctx context.Context, records []textdata.Record) (err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpSaveRecords, start, err) }()
	if len(records) == 0 {
		return nil
	}

	rows := make([]Event, len(records))
	for i := range records {
		rows[i] = Event{
			Line:    records[i].Line,
			Numeric: encodeNumbers(records[i].Numbers),
			Strings: strings.Join(records[i].Strings, stringSeparator),
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(&rows, s.batchSize).Error
	})
	if err != nil {
		return dbError(fmt.Errorf("saving %d records: %w", len(records), err), metrics.OpSaveRecords)
	}
	s.metrics.AddRecordsWritten(len(rows))
	return nil
}

// Schema rebuilds the stored header.
func (s *Store) Schema(ctx context.Context) (schema *textdata.Schema, err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpLoadSchema, start, err) }()

	var rows []Attribute
	if err = s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, dbError(fmt.Errorf("loading attributes: %w", err), metrics.OpLoadSchema)
	}
	if len(rows) == 0 {
		err = errors.New(ErrNoSchema).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Build()
		return nil, err
	}

	var desc Metadata
	if err = s.db.WithContext(ctx).Where(&Metadata{Name: descriptionKey}).Limit(1).Find(&desc).Error; err != nil {
		return nil, dbError(fmt.Errorf("loading description: %w", err), metrics.OpLoadSchema)
	}

	attrs := make([]textdata.Attribute, len(rows))
	for i, r := range rows {
		dims, dimErr := splitDims(r.Dims)
		if dimErr != nil {
			err = dbError(fmt.Errorf("attribute %q: %w", r.Name, dimErr), metrics.OpLoadSchema)
			return nil, err
		}
		kind, kindErr := textdata.ParseKind(r.Kind)
		if kindErr != nil {
			err = dbError(fmt.Errorf("attribute %q: %w", r.Name, kindErr), metrics.OpLoadSchema)
			return nil, err
		}
		attrs[i] = textdata.Attribute{Name: r.Name, Dims: dims, Elements: r.Elements, Kind: kind}
	}
	return textdata.NewSchema(desc.Value, attrs)
}

// ForEachRecord streams stored records in insertion order, which is line
// order for imported files, batchSize rows at a time.
func (s *Store) ForEachRecord(ctx context.Context, schema *textdata.Schema, fn func(textdata.Record) error) (err error) {
	start := time.Now()
	defer func() { s.observe(metrics.OpLoadRecords, start, err) }()

	var rows []Event
	var fnErr error
	result := s.db.WithContext(ctx).FindInBatches(&rows, s.batchSize, func(_ *gorm.DB, _ int) error {
		for i := range rows {
			rec, decodeErr := decodeEvent(&rows[i], schema)
			if decodeErr != nil {
				fnErr = decodeErr
				return decodeErr
			}
			if err := fn(rec); err != nil {
				fnErr = err
				return err
			}
		}
		return nil
	})
	if fnErr != nil {
		err = fnErr
		return err
	}
	if result.Error != nil {
		err = dbError(fmt.Errorf("loading records: %w", result.Error), metrics.OpLoadRecords)
		return err
	}
	return nil
}

func decodeEvent(row *Event, schema *textdata.Schema) (textdata.Record, error) {
	numbers, err := decodeNumbers(row.Numeric)
	if err != nil {
		return textdata.Record{}, dbError(fmt.Errorf("event at line %d: %w", row.Line, err), metrics.OpLoadRecords)
	}
	if len(numbers) != schema.NumericWidth {
		return textdata.Record{}, dbError(fmt.Errorf("event at line %d has %d numeric values, schema expects %d",
			row.Line, len(numbers), schema.NumericWidth), metrics.OpLoadRecords)
	}
	rec := textdata.Record{Line: row.Line, Numbers: numbers}
	if schema.StringWidth > 0 {
		rec.Strings = strings.Split(row.Strings, stringSeparator)
		if len(rec.Strings) != schema.StringWidth {
			return textdata.Record{}, dbError(fmt.Errorf("event at line %d has %d string values, schema expects %d",
				row.Line, len(rec.Strings), schema.StringWidth), metrics.OpLoadRecords)
		}
	}
	return rec, nil
}

// Records loads every stored record.
func (s *Store) Records(ctx context.Context, schema *textdata.Schema) ([]textdata.Record, error) {
	var out []textdata.Record
	err := s.ForEachRecord(ctx, schema, func(r textdata.Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Events converts every stored record into a bubble event through m.
func (s *Store) Events(ctx context.Context, m events.Mapping) ([]events.BubbleEvent, error) {
	schema, err := s.Schema(ctx)
	if err != nil {
		return nil, err
	}
	binding, err := m.Bind(schema)
	if err != nil {
		return nil, err
	}
	var out []events.BubbleEvent
	err = s.ForEachRecord(ctx, schema, func(r textdata.Record) error {
		out = append(out, binding.Event(&r))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("loaded events", logger.Int("events", len(out)))
	return out, nil
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&Event{}).Count(&n).Error; err != nil {
		return 0, dbError(fmt.Errorf("counting events: %w", err), "count")
	}
	return n, nil
}

// Import replaces the store contents with everything rd yields, writing in
// batches so the whole file never sits in memory. It returns the number of
// records written.
func (s *Store) Import(ctx context.Context, rd *textdata.Reader) (int, error) {
	start := time.Now()
	if err := s.SaveSchema(ctx, rd.Schema()); err != nil {
		return 0, err
	}

	total := 0
	batch := make([]textdata.Record, 0, s.batchSize)
	flush := func() error {
		if err := s.SaveRecords(ctx, batch); err != nil {
			return err
		}
		total += len(batch)
		batch = batch[:0]
		return ctx.Err()
	}

	_, err := rd.ForEach(func(r textdata.Record) error {
		batch = append(batch, r)
		if len(batch) < s.batchSize {
			return nil
		}
		return flush()
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return total, importError(err, total, time.Since(start))
	}
	s.log.Info("imported event table",
		logger.Int("records", total),
		logger.Duration("elapsed", time.Since(start)))
	return total, nil
}

// importError marks an interrupted import with how far it got. Other errors
// already carry their own context.
func importError(err error, written int, elapsed time.Duration) error {
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryCancellation).
		Context("records", written).
		Timing("import", elapsed).
		Build()
}
