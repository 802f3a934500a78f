// Package worker exposes the pipeline engine behind a message envelope: typed
// requests carrying a correlation id go in, responses carrying the same id
// come back out. Requests on one worker interleave freely; each is served on
// its own goroutine, so a long build never blocks a preview.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"sync"

	"datastudio/internal/analyze"
	"datastudio/internal/config"
	"datastudio/internal/pipeline"
	"datastudio/internal/store"
	"datastudio/pkg/records"
)

// Request types understood by the worker.
const (
	TypePreview       = "preview"
	TypeBuild         = "build"
	TypeBuildInto     = "build_into"
	TypeCloneSource   = "clone_source"
	TypeCleanPreview  = "clean_preview"
	TypeCleanPage     = "clean_page"
	TypeFindReplace   = "find_replace"
	TypeNormDates     = "normalize_dates"
	TypeNormText      = "normalize_text"
	TypeExplode       = "explode"
	TypeDeleteRow     = "delete_row"
	TypeAnalyzeColumn = "analyze_column"
	TypeUniqueValues  = "unique_values"
)

// Request is one unit of work. ID correlates the eventual Response; Payload
// is the type-specific argument struct, JSON-encoded.
type Request struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers exactly one Request. Either Payload or Error is set.
type Response struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Worker serves requests from a channel and writes responses to another.
type Worker struct {
	engine *pipeline.Engine
}

// New returns a Worker around engine.
func New(engine *pipeline.Engine) *Worker {
	return &Worker{engine: engine}
}

// Run consumes requests until in closes or ctx is cancelled. Each request is
// handled on its own goroutine and its response is written to out. Run
// returns after every in-flight request has answered.
func (w *Worker) Run(ctx context.Context, in <-chan Request, out chan<- Response) {
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case req, ok := <-in:
			if !ok {
				wg.Wait()
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := w.handle(ctx, req)
				select {
				case out <- resp:
				case <-ctx.Done():
				}
			}()
		}
	}
}

// handle dispatches one request. A panic in an operation is converted to an
// error response so one bad request cannot take the worker down.
func (w *Worker) handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker: panic in %s request %s: %v\n%s", req.Type, req.ID, r, debug.Stack())
			resp = Response{ID: req.ID, Error: fmt.Sprintf("worker: internal error in %s: %v", req.Type, r)}
		}
	}()

	payload, err := w.dispatch(ctx, req)
	if err != nil {
		return Response{ID: req.ID, Error: err.Error()}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Response{ID: req.ID, Error: fmt.Sprintf("worker: encode %s response: %v", req.Type, err)}
	}
	return Response{ID: req.ID, Payload: encoded}
}

// Argument payloads. Field names match the request JSON the grid sends.

type PreviewArgs struct {
	ProjectID string                 `json:"projectId"`
	Sources   []pipeline.SourceRules `json:"sources"`
	Limit     int                    `json:"limit"`
}

type BuildArgs struct {
	ProjectID string                 `json:"projectId"`
	Name      string                 `json:"name"`
	Sources   []pipeline.SourceRules `json:"sources"`
}

type BuildIntoArgs struct {
	ProjectID string                 `json:"projectId"`
	TargetID  string                 `json:"targetId"`
	Sources   []pipeline.SourceRules `json:"sources"`
	Mode      pipeline.MergeMode     `json:"mode"`
}

type CloneArgs struct {
	ProjectID string `json:"projectId"`
	SourceID  string `json:"sourceId"`
	NewName   string `json:"newName"`
}

type CleanQueryArgs struct {
	ProjectID string            `json:"projectId"`
	SourceID  string            `json:"sourceId"`
	Search    string            `json:"search"`
	Filters   map[string]string `json:"filters"`
	Offset    int               `json:"offset"`
	PageSize  int               `json:"pageSize"`
	Limit     int               `json:"limit"`
}

type ColumnEditArgs struct {
	ProjectID string `json:"projectId"`
	SourceID  string `json:"sourceId"`
	Column    string `json:"column"`
	Find      string `json:"find"`
	Replace   string `json:"replace"`
}

type DeleteRowArgs struct {
	ProjectID string `json:"projectId"`
	SourceID  string `json:"sourceId"`
	RowIndex  int    `json:"rowIndex"`
}

type AnalyzeArgs struct {
	ProjectID string         `json:"projectId"`
	SourceID  string         `json:"sourceId"`
	Column    string         `json:"column"`
	Method    string         `json:"method"`
	Limit     int            `json:"limit"`
	Params    config.Options `json:"params"`
}

// EditAck is the response payload of the mutating clean edits.
type EditAck struct {
	OK bool `json:"ok"`
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("worker: missing request payload")
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("worker: decode payload: %w", err)
	}
	return v, nil
}

const analyzeSampleRows = 5 * store.ChunkSize

func (w *Worker) dispatch(ctx context.Context, req Request) (any, error) {
	switch req.Type {
	case TypePreview:
		args, err := decode[PreviewArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.engine.Preview(ctx, args.ProjectID, args.Sources, args.Limit)

	case TypeBuild:
		args, err := decode[BuildArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.engine.Build(ctx, args.ProjectID, args.Name, args.Sources)

	case TypeBuildInto:
		args, err := decode[BuildIntoArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.engine.BuildInto(ctx, args.ProjectID, args.TargetID, args.Sources, args.Mode)

	case TypeCloneSource:
		args, err := decode[CloneArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.engine.Clone(ctx, args.ProjectID, args.SourceID, args.NewName)

	case TypeCleanPreview:
		args, err := decode[CleanQueryArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.engine.CleanPreview(ctx, args.ProjectID, args.SourceID, args.Search, args.Filters, args.Limit)

	case TypeCleanPage:
		args, err := decode[CleanQueryArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		return w.engine.CleanQueryPage(ctx, args.ProjectID, args.SourceID, args.Search, args.Filters, args.Offset, args.PageSize)

	case TypeFindReplace:
		args, err := decode[ColumnEditArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		err = w.engine.FindReplace(ctx, args.ProjectID, args.SourceID, args.Column, args.Find, args.Replace)
		return EditAck{OK: err == nil}, err

	case TypeNormDates:
		args, err := decode[ColumnEditArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		err = w.engine.NormalizeDates(ctx, args.ProjectID, args.SourceID, args.Column)
		return EditAck{OK: err == nil}, err

	case TypeNormText:
		args, err := decode[ColumnEditArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		err = w.engine.NormalizeText(ctx, args.ProjectID, args.SourceID, args.Column)
		return EditAck{OK: err == nil}, err

	case TypeExplode:
		args, err := decode[ColumnEditArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		err = w.engine.Explode(ctx, args.ProjectID, args.SourceID, args.Column)
		return EditAck{OK: err == nil}, err

	case TypeDeleteRow:
		args, err := decode[DeleteRowArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		err = w.engine.DeleteRow(ctx, args.ProjectID, args.SourceID, args.RowIndex)
		return EditAck{OK: err == nil}, err

	case TypeAnalyzeColumn:
		args, err := decode[AnalyzeArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		rows, err := w.sample(ctx, args.ProjectID, args.SourceID)
		if err != nil {
			return nil, err
		}
		return analyze.Column(rows, args.Column), nil

	case TypeUniqueValues:
		args, err := decode[AnalyzeArgs](req.Payload)
		if err != nil {
			return nil, err
		}
		rows, err := w.sample(ctx, args.ProjectID, args.SourceID)
		if err != nil {
			return nil, err
		}
		return analyze.UniqueValues(rows, args.Column, args.Method, args.Limit, args.Params), nil

	default:
		return nil, fmt.Errorf("worker: unknown request type %q", req.Type)
	}
}

func (w *Worker) sample(ctx context.Context, projectID, sourceID string) ([]records.Record, error) {
	return w.engine.SampleRows(ctx, projectID, sourceID, analyzeSampleRows)
}
