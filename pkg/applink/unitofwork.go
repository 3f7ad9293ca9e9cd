package applink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/joeydtaylor/steeze-applink/pkg/codec"
)

// ReferenceID names a record inside a unit of work.
type ReferenceID string

// ID is the placeholder other records use to point at this record's id
// before it exists.
func (r ReferenceID) ID() string { return "@{" + string(r) + ".id}" }

type uowOp struct {
	ref    ReferenceID
	method string
	sobj   string
	id     string
	body   map[string]any
}

// UnitOfWork collects record changes committed atomically through the
// Composite Graph API.
type UnitOfWork struct {
	ops []uowOp
}

func NewUnitOfWork() *UnitOfWork { return &UnitOfWork{} }

func (u *UnitOfWork) nextRef(sobj string) ReferenceID {
	return ReferenceID("ref" + sobj + strconv.Itoa(len(u.ops)))
}

// RegisterCreate queues an insert of rec.
func (u *UnitOfWork) RegisterCreate(rec Record) ReferenceID {
	ref := u.nextRef(rec.Type)
	u.ops = append(u.ops, uowOp{ref: ref, method: http.MethodPost, sobj: rec.Type, body: rec.Fields})
	return ref
}

// RegisterUpdate queues an update; rec.Fields must carry "Id".
func (u *UnitOfWork) RegisterUpdate(rec Record) (ReferenceID, error) {
	id, _ := rec.Fields["Id"].(string)
	if id == "" {
		return "", errors.New("unit of work: update requires Id")
	}
	body := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		if k != "Id" {
			body[k] = v
		}
	}
	ref := u.nextRef(rec.Type)
	u.ops = append(u.ops, uowOp{ref: ref, method: http.MethodPatch, sobj: rec.Type, id: id, body: body})
	return ref, nil
}

// RegisterDelete queues a delete.
func (u *UnitOfWork) RegisterDelete(sobj, id string) ReferenceID {
	ref := u.nextRef(sobj)
	u.ops = append(u.ops, uowOp{ref: ref, method: http.MethodDelete, sobj: sobj, id: id})
	return ref
}

// Len is the number of queued operations.
func (u *UnitOfWork) Len() int { return len(u.ops) }

// ModificationResult is the outcome of one queued operation.
type ModificationResult struct {
	ID     string
	Status int
	Errors []ErrorDetail
}

// CommitError reports a rolled back graph.
type CommitError struct {
	Results map[ReferenceID]ModificationResult
}

func (e *CommitError) Error() string {
	var msgs []string
	for ref, r := range e.Results {
		for _, d := range r.Errors {
			msgs = append(msgs, fmt.Sprintf("%s: %s %s", ref, d.ErrorCode, d.Message))
		}
	}
	if len(msgs) == 0 {
		return "unit of work: graph not successful"
	}
	return "unit of work: " + strings.Join(msgs, "; ")
}

type graphRequest struct {
	Graphs []graph `json:"graphs"`
}

type graph struct {
	GraphID          string        `json:"graphId"`
	CompositeRequest []compositeOp `json:"compositeRequest"`
}

type compositeOp struct {
	Method      string         `json:"method"`
	URL         string         `json:"url"`
	ReferenceID string         `json:"referenceId"`
	Body        map[string]any `json:"body,omitempty"`
}

type graphResponse struct {
	Graphs []struct {
		GraphID       string `json:"graphId"`
		IsSuccessful  bool   `json:"isSuccessful"`
		GraphResponse struct {
			CompositeResponse []struct {
				Body           json.RawMessage `json:"body"`
				HTTPStatusCode int             `json:"httpStatusCode"`
				ReferenceID    string          `json:"referenceId"`
			} `json:"compositeResponse"`
		} `json:"graphResponse"`
	} `json:"graphs"`
}

const graphID = "graph0"

// Commit sends every queued operation as one graph. All or nothing: when the
// org rolls the graph back a *CommitError carries the per-record errors.
func (d *DataAPI) Commit(ctx context.Context, u *UnitOfWork) (map[ReferenceID]ModificationResult, error) {
	if u == nil || len(u.ops) == 0 {
		return map[ReferenceID]ModificationResult{}, nil
	}
	g := graph{GraphID: graphID}
	for _, op := range u.ops {
		url := d.BasePath() + "/sobjects/" + op.sobj
		if op.id != "" {
			url += "/" + op.id
		}
		g.CompositeRequest = append(g.CompositeRequest, compositeOp{
			Method:      op.method,
			URL:         url,
			ReferenceID: string(op.ref),
			Body:        op.body,
		})
	}

	var res graphResponse
	if err := d.do(ctx, http.MethodPost, d.BasePath()+"/composite/graph", graphRequest{Graphs: []graph{g}}, &res); err != nil {
		return nil, err
	}
	if len(res.Graphs) == 0 {
		return nil, errors.New("unit of work: empty graph response")
	}

	gr := res.Graphs[0]
	out := make(map[ReferenceID]ModificationResult, len(gr.GraphResponse.CompositeResponse))
	for _, cr := range gr.GraphResponse.CompositeResponse {
		mr := ModificationResult{Status: cr.HTTPStatusCode}
		if cr.HTTPStatusCode >= 200 && cr.HTTPStatusCode <= 299 {
			var ok struct {
				ID string `json:"id"`
			}
			if len(cr.Body) > 0 && string(cr.Body) != "null" {
				if err := codec.JSONLenient.Unmarshal(cr.Body, &ok); err != nil {
					return nil, fmt.Errorf("unit of work: %s result: %w", cr.ReferenceID, err)
				}
			}
			mr.ID = ok.ID
		} else if len(cr.Body) > 0 && string(cr.Body) != "null" {
			if err := codec.JSONLenient.Unmarshal(cr.Body, &mr.Errors); err != nil {
				return nil, fmt.Errorf("unit of work: %s errors: %w", cr.ReferenceID, err)
			}
		}
		out[ReferenceID(cr.ReferenceID)] = mr
	}
	if !gr.IsSuccessful {
		return out, &CommitError{Results: out}
	}
	// Updates and deletes answer 204 without a body; report the id we sent.
	for _, op := range u.ops {
		if mr, ok := out[op.ref]; ok && mr.ID == "" && op.id != "" {
			mr.ID = op.id
			out[op.ref] = mr
		}
	}
	return out, nil
}
