package main

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/vogtb/go-cellgraph/packages/article"
	"github.com/vogtb/go-cellgraph/packages/cell"
	"github.com/vogtb/go-cellgraph/packages/config"
	"github.com/vogtb/go-cellgraph/packages/engine"
	"github.com/vogtb/go-cellgraph/packages/sheet"
)

// workbook is a loaded configuration wired into an engine
type workbook struct {
	cfg    *config.Config
	engine *engine.Engine
	docs   []*document
}

// document is one article or sheet of a workbook
type document struct {
	name    string
	article *article.Article
	sheet   *sheet.Sheet
}

// row is a cell as it is reported
type row struct {
	document string
	label    string
	cell     *cell.Cell
}

// buildWorkbook registers the documents of cfg with a new engine. a non-nil
// autorun replaces the autorun settings of the workbook.
func buildWorkbook(cfg *config.Config, logger *log.Logger, autorun *bool) (*workbook, error) {
	e := engine.New(
		engine.WithLogger(logger),
		engine.WithAnalysisCacheSize(cfg.Engine.AnalysisCacheSize),
	)
	w := &workbook{cfg: cfg, engine: e}
	for _, docCfg := range cfg.Documents {
		run := cfg.AutorunOf(docCfg)
		if autorun != nil {
			run = *autorun
		}
		doc, err := w.addDocument(docCfg, run, autorun == nil)
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("document %q: %w", docCfg.Name, err)
		}
		w.docs = append(w.docs, doc)
	}
	return w, nil
}

func (w *workbook) addDocument(docCfg config.DocumentConfig, autorun, cellAutorun bool) (*document, error) {
	doc := &document{name: docCfg.Name}
	var ids []cell.ID
	switch docCfg.Kind {
	case config.KindSheet:
		s, err := sheet.New(w.engine, docCfg.Name, docCfg.Rows, docCfg.Cols, sheet.WithAutorun(autorun))
		if err != nil {
			return nil, err
		}
		doc.sheet = s
		for _, cellCfg := range docCfg.Cells {
			id, err := s.Set(cellCfg.Address, cellCfg.Source)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	default:
		a, err := article.New(w.engine, docCfg.Name,
			article.WithLanguage(docCfg.Language),
			article.WithAutorun(autorun))
		if err != nil {
			return nil, err
		}
		doc.article = a
		for _, cellCfg := range docCfg.Cells {
			id, err := a.Append(cellCfg.Source, cellCfg.SideEffects)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
	}

	if cellAutorun {
		for i, cellCfg := range docCfg.Cells {
			if cellCfg.Autorun == nil || ids[i] == "" {
				continue
			}
			if c, ok := w.engine.Graph().Cell(ids[i]); ok {
				override := *cellCfg.Autorun
				c.Autorun = &override
			}
		}
	}
	return doc, nil
}

// run drives the engine until every cell settled or the run timeout hits
func (w *workbook) run(ctx context.Context) error {
	if timeout := w.cfg.Engine.RunTimeout.Duration; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := w.engine.RunUntilIdle(ctx); err != nil {
		return fmt.Errorf("running workbook: %w", err)
	}
	return nil
}

func (w *workbook) close() {
	w.engine.Close()
}

// rows lists the cells of every document in document order
func (w *workbook) rows() []row {
	g := w.engine.Graph()
	var result []row
	for _, doc := range w.docs {
		for i, id := range doc.cells() {
			c, ok := g.Cell(id)
			if !ok {
				continue
			}
			result = append(result, row{document: doc.name, label: doc.label(c, i), cell: c})
		}
	}
	return result
}

// broken lists the cells that cannot run as written
func (w *workbook) broken() []row {
	var result []row
	for _, r := range w.rows() {
		if r.cell.Status == cell.StatusBroken {
			result = append(result, r)
		}
	}
	return result
}

func (d *document) cells() []cell.ID {
	if d.sheet != nil {
		return d.sheet.Cells()
	}
	return d.article.Cells()
}

// label names a cell for display: its address in a sheet, its position in
// an article
func (d *document) label(c *cell.Cell, index int) string {
	if d.sheet != nil && c.IsSheetCell() {
		return sheet.Address(c.Row, c.Col)
	}
	return "#" + strconv.Itoa(index+1)
}
