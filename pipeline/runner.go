package pipeline

import (
	"sync"
	"time"

	"github.com/danmont/starpipe/components"
	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/rowio"
	"github.com/danmont/starpipe/schema"
	"github.com/danmont/starpipe/stats"
	"github.com/danmont/starpipe/stream"
	"github.com/pkg/errors"
	"github.com/rs/xid"
	"golang.org/x/net/context"
)

// Default calendar horizon used when the config leaves it unset.
const (
	calendarStartYearDefault = 2000
	calendarSpanYearsDefault = 30
)

// Pipeline runs one incremental load of the star schema. Stages execute in
// dependency order: staging first (one goroutine per source table), then the
// calendar dimensions, then each plain dimension, then the history-tracked
// customer dimension and finally the fact table, so every foreign key a later
// stage resolves already exists.
type Pipeline struct {
	cfg     *Config
	log     logger.Logger
	seq     rowio.Sequence
	stats   *stats.PipelineStatsManager
	summary *stats.LoadSummary
}

func New(cfg *Config) (*Pipeline, error) {
	if cfg.Log == nil {
		return nil, errors.New("pipeline config requires a logger")
	}
	if cfg.Source == nil || cfg.Store == nil {
		return nil, errors.New("pipeline config requires a row source and a store")
	}
	if cfg.OriginTag == "" {
		return nil, errors.New("pipeline config requires an origin tag")
	}
	if cfg.BatchId == "" {
		cfg.BatchId = xid.New().String()
	}
	if cfg.Seq == nil {
		cfg.Seq = cfg.Store
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.CalendarStartYear == 0 {
		cfg.CalendarStartYear = calendarStartYearDefault
	}
	if cfg.CalendarSpanYears == 0 {
		cfg.CalendarSpanYears = calendarSpanYearsDefault
	}
	statsOpts := make([]func(*stats.PipelineStatsManager), 0, 1)
	if cfg.StatsDumpFrequencySeconds > 0 {
		statsOpts = append(statsOpts, stats.SetStatsDumpFrequency(cfg.StatsDumpFrequencySeconds))
	}
	return &Pipeline{
		cfg:     cfg,
		log:     cfg.Log,
		seq:     cfg.Seq,
		stats:   stats.NewPipelineStats(cfg.Log, statsOpts...),
		summary: stats.NewLoadSummary(cfg.BatchId),
	}, nil
}

// BatchId returns the run identifier stamped on every staged row.
func (p *Pipeline) BatchId() string {
	return p.summary.BatchId
}

// Summary returns the row accounting gathered so far.
func (p *Pipeline) Summary() stats.RunSummary {
	return p.summary.Render()
}

// StepStats returns throughput figures per pipeline step.
func (p *Pipeline) StepStats() []stats.Stats {
	return p.stats.GetStats()
}

// Run executes the full load and blocks until it completes or fails.
// Stages that fail with a transient I/O error are retried per the configured
// policy; cancellation is honoured between stages and between retry attempts.
func (p *Pipeline) Run(ctx context.Context) (stats.RunSummary, error) {
	p.log.Info("Starting load for batch ", p.summary.BatchId)
	if p.cfg.StatsDumpFrequencySeconds > 0 {
		p.stats.StartDumping()
		defer p.stats.StopDumping()
	}
	type stage struct {
		name string
		fn   func() error
	}
	stages := []stage{
		{"stage source tables", p.runStaging},
		{"build calendar dimensions", p.runCalendar},
	}
	for _, dim := range p.cfg.Model.Dimensions {
		if dim.Tracked {
			continue
		}
		d := dim
		stages = append(stages, stage{"load " + d.Table, func() error { return p.runPlainDimension(d) }})
	}
	for _, dim := range p.cfg.Model.Dimensions {
		if !dim.Tracked {
			continue
		}
		d := dim
		stages = append(stages, stage{"load " + d.Table, func() error { return p.runTrackedDimension(d) }})
	}
	stages = append(stages, stage{"load " + p.cfg.Model.Fact.Table, p.runFact})
	for _, s := range stages {
		if err := ctx.Err(); err != nil { // if the run was cancelled...
			p.summary.Finish()
			return p.summary.Render(), err
		}
		p.log.Info("Launching stage: ", s.name)
		if err := runStageWithRetry(ctx, p.log, p.cfg.Retry, s.name, s.fn); err != nil {
			p.summary.Finish()
			return p.summary.Render(), errors.Wrapf(err, "stage %q failed", s.name)
		}
	}
	p.summary.Finish()
	r := p.summary.Render()
	p.log.Info(r.String())
	return r, nil
}

// RunStagingOnly stages the source tables and stops, leaving the warehouse
// loads for a later run over the same staged batch.
func (p *Pipeline) RunStagingOnly(ctx context.Context) (stats.RunSummary, error) {
	err := runStageWithRetry(ctx, p.log, p.cfg.Retry, "stage source tables", p.runStaging)
	p.summary.Finish()
	return p.summary.Render(), err
}

// RunCalendarOnly materialises the calendar dimensions and stops. Useful to
// extend the horizon of an existing warehouse before its first load of a year.
func (p *Pipeline) RunCalendarOnly(ctx context.Context) (stats.RunSummary, error) {
	err := runStageWithRetry(ctx, p.log, p.cfg.Retry, "build calendar dimensions", p.runCalendar)
	p.summary.Finish()
	return p.summary.Render(), err
}

// runStaging extracts and stages every source table concurrently. The staged
// tables are independent of each other so this is the only parallel stage.
func (p *Pipeline) runStaging() error {
	var wg sync.WaitGroup
	errs := make(chan error, len(p.cfg.Model.Staging))
	for _, st := range p.cfg.Model.Staging {
		wg.Add(1)
		go func(st schema.StagingTable) {
			defer wg.Done()
			if err := p.stageTable(st); err != nil {
				errs <- err
			}
		}(st)
	}
	wg.Wait()
	close(errs)
	return <-errs
}

// stageTable wires read -> stamp -> write for one source table and blocks
// until the chain drains.
func (p *Pipeline) stageTable(st schema.StagingTable) error {
	errorChan := make(chan error, 2)
	gw := newGroupWaiter()
	readName := "read " + st.SourceName
	readChan, _ := components.NewTableInput(&components.TableInputConfig{
		Log:         p.log,
		Name:        readName,
		Source:      p.cfg.Source,
		TableName:   st.SourceName,
		StepWatcher: p.stats.AddStepWatcher(readName),
		WaitCounter: gw.newStepComponentWaiter(readName),
		ErrorChan:   errorChan,
	})
	stampName := "stamp " + st.StagedName
	stampChan, _ := components.NewAuditStamper(&components.AuditStamperConfig{
		Log:         p.log,
		Name:        stampName,
		InputChan:   readChan,
		Staging:     st,
		OriginTag:   p.cfg.OriginTag,
		BatchId:     p.summary.BatchId,
		Clock:       p.cfg.Clock,
		Summary:     p.summary,
		StepWatcher: p.stats.AddStepWatcher(stampName),
		WaitCounter: gw.newStepComponentWaiter(stampName),
	})
	writeName := "write " + st.StagedName
	writeChan, _ := components.NewTableOutput(&components.TableOutputConfig{
		Log:         p.log,
		Name:        writeName,
		InputChan:   stampChan,
		Sink:        p.cfg.Store,
		TableName:   st.StagedName,
		KeyCols:     []string{st.KeyColumn()},
		Mode:        rowio.ModeUpsert,
		Summary:     p.summary,
		StepWatcher: p.stats.AddStepWatcher(writeName),
		WaitCounter: gw.newStepComponentWaiter(writeName),
		ErrorChan:   errorChan,
	})
	for range writeChan {
	}
	gw.Wait()
	return firstError(errorChan)
}

// runCalendar materialises the date and time dimensions up front so fact
// loading can rely on exact-match lookups. Both builders are create-if-absent.
func (p *Pipeline) runCalendar() error {
	errorChan := make(chan error, 2)
	gw := newGroupWaiter()
	dateName := "build " + schema.TableDimDate
	dateChan, _ := components.NewDateDimensionRows(&components.DateDimensionRowsConfig{
		Log:         p.log,
		Name:        dateName,
		StartYear:   p.cfg.CalendarStartYear,
		SpanYears:   p.cfg.CalendarSpanYears,
		Lookup:      p.cfg.Store,
		Seq:         p.seq,
		StepWatcher: p.stats.AddStepWatcher(dateName),
		WaitCounter: gw.newStepComponentWaiter(dateName),
		ErrorChan:   errorChan,
	})
	if err := p.drainToTable(gw, errorChan, dateChan, schema.TableDimDate, schema.ColCalDate); err != nil {
		return err
	}
	timeName := "build " + schema.TableDimTime
	timeChan, _ := components.NewTimeDimensionRows(&components.TimeDimensionRowsConfig{
		Log:         p.log,
		Name:        timeName,
		Lookup:      p.cfg.Store,
		Seq:         p.seq,
		StepWatcher: p.stats.AddStepWatcher(timeName),
		WaitCounter: gw.newStepComponentWaiter(timeName),
		ErrorChan:   errorChan,
	})
	return p.drainToTable(gw, errorChan, timeChan, schema.TableDimTime, schema.ColTime24h)
}

// drainToTable writes a generated row stream to its dimension table and waits
// for the chain to finish.
func (p *Pipeline) drainToTable(gw *groupWaiter, errorChan chan error, inputChan chan stream.Record, tableName, keyCol string) error {
	writeName := "write " + tableName
	writeChan, _ := components.NewTableOutput(&components.TableOutputConfig{
		Log:         p.log,
		Name:        writeName,
		InputChan:   inputChan,
		Sink:        p.cfg.Store,
		TableName:   tableName,
		KeyCols:     []string{keyCol},
		Mode:        rowio.ModeInsert,
		Summary:     p.summary,
		StepWatcher: p.stats.AddStepWatcher(writeName),
		WaitCounter: gw.newStepComponentWaiter(writeName),
		ErrorChan:   errorChan,
	})
	for range writeChan {
	}
	gw.Wait()
	return firstError(errorChan)
}

// runPlainDimension loads one insert-only dimension from its staged source.
func (p *Pipeline) runPlainDimension(dim schema.Dimension) error {
	errorChan := make(chan error, 2)
	gw := newGroupWaiter()
	readName := "read " + dim.StagedSource
	readChan, _ := components.NewTableInput(&components.TableInputConfig{
		Log:         p.log,
		Name:        readName,
		Source:      p.cfg.Store,
		TableName:   dim.StagedSource,
		StepWatcher: p.stats.AddStepWatcher(readName),
		WaitCounter: gw.newStepComponentWaiter(readName),
		ErrorChan:   errorChan,
	})
	loadName := "load " + dim.Table
	loadChan, _ := components.NewDimensionLoader(&components.DimensionLoaderConfig{
		Log:         p.log,
		Name:        loadName,
		InputChan:   readChan,
		Dim:         dim,
		Lookup:      p.cfg.Store,
		Seq:         p.seq,
		Summary:     p.summary,
		StepWatcher: p.stats.AddStepWatcher(loadName),
		WaitCounter: gw.newStepComponentWaiter(loadName),
		ErrorChan:   errorChan,
	})
	return p.drainToTable(gw, errorChan, loadChan, dim.Table, dim.NaturalKey)
}

// runTrackedDimension loads the history-tracked dimension. The loader writes
// the sink itself so it can order its closing upserts before its inserts.
func (p *Pipeline) runTrackedDimension(dim schema.Dimension) error {
	errorChan := make(chan error, 2)
	gw := newGroupWaiter()
	readName := "read " + dim.StagedSource
	readChan, _ := components.NewTableInput(&components.TableInputConfig{
		Log:         p.log,
		Name:        readName,
		Source:      p.cfg.Store,
		TableName:   dim.StagedSource,
		StepWatcher: p.stats.AddStepWatcher(readName),
		WaitCounter: gw.newStepComponentWaiter(readName),
		ErrorChan:   errorChan,
	})
	loadName := "load " + dim.Table
	loadChan, _ := components.NewScd2Loader(&components.Scd2LoaderConfig{
		Log:         p.log,
		Name:        loadName,
		InputChan:   readChan,
		Dim:         dim,
		Lookup:      p.cfg.Store,
		Sink:        p.cfg.Store,
		Seq:         p.seq,
		Summary:     p.summary,
		StepWatcher: p.stats.AddStepWatcher(loadName),
		WaitCounter: gw.newStepComponentWaiter(loadName),
		ErrorChan:   errorChan,
	})
	for range loadChan {
	}
	gw.Wait()
	return firstError(errorChan)
}

// runFact loads the invoice-grain fact from the staged invoice headers.
func (p *Pipeline) runFact() error {
	customerDim, ok := p.cfg.Model.DimensionByTable(schema.TableDimCustomer)
	if !ok {
		return errors.New("model is missing the customer dimension")
	}
	invoiceDim, ok := p.cfg.Model.DimensionByTable(schema.TableDimInvoice)
	if !ok {
		return errors.New("model is missing the invoice dimension")
	}
	headers, ok := p.cfg.Model.StagingByName("invoices")
	if !ok {
		return errors.New("model is missing the staged invoice headers")
	}
	items, ok := p.cfg.Model.StagingByName("invoice_items")
	if !ok {
		return errors.New("model is missing the staged invoice items")
	}
	errorChan := make(chan error, 2)
	gw := newGroupWaiter()
	readName := "read " + headers.StagedName
	readChan, _ := components.NewTableInput(&components.TableInputConfig{
		Log:         p.log,
		Name:        readName,
		Source:      p.cfg.Store,
		TableName:   headers.StagedName,
		StepWatcher: p.stats.AddStepWatcher(readName),
		WaitCounter: gw.newStepComponentWaiter(readName),
		ErrorChan:   errorChan,
	})
	loadName := "load " + p.cfg.Model.Fact.Table
	loadChan, _ := components.NewFactLoader(&components.FactLoaderConfig{
		Log:         p.log,
		Name:        loadName,
		InputChan:   readChan,
		Fact:        p.cfg.Model.Fact,
		CustomerDim: customerDim,
		InvoiceDim:  invoiceDim,
		ItemsTable:  items.StagedName,
		Lookup:      p.cfg.Store,
		Sink:        p.cfg.Store,
		Seq:         p.seq,
		Summary:     p.summary,
		StepWatcher: p.stats.AddStepWatcher(loadName),
		WaitCounter: gw.newStepComponentWaiter(loadName),
		ErrorChan:   errorChan,
	})
	for range loadChan {
	}
	gw.Wait()
	return firstError(errorChan)
}

func firstError(errorChan chan error) error {
	select {
	case err := <-errorChan:
		return err
	default:
		return nil
	}
}
