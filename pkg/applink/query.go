package applink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/joeydtaylor/steeze-applink/pkg/codec"
)

// Record is one sObject row.
type Record struct {
	Type   string
	Fields map[string]any
}

// String returns a string field, or "" when absent or not a string.
func (r Record) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// QueryResult is one page of a SOQL query.
type QueryResult struct {
	Done           bool
	TotalSize      int
	Records        []Record
	NextRecordsURL string
}

type rawQueryResult struct {
	Done           bool                         `json:"done"`
	TotalSize      int                          `json:"totalSize"`
	NextRecordsURL string                       `json:"nextRecordsUrl"`
	Records        []map[string]json.RawMessage `json:"records"`
}

func (raw rawQueryResult) decode() (QueryResult, error) {
	out := QueryResult{Done: raw.Done, TotalSize: raw.TotalSize, NextRecordsURL: raw.NextRecordsURL}
	for _, m := range raw.Records {
		rec := Record{Fields: make(map[string]any, len(m))}
		for k, v := range m {
			if k == "attributes" {
				var a struct {
					Type string `json:"type"`
				}
				if err := codec.JSONLenient.Unmarshal(v, &a); err != nil {
					return QueryResult{}, fmt.Errorf("record attributes: %w", err)
				}
				rec.Type = a.Type
				continue
			}
			var val any
			if err := codec.JSONLenient.Unmarshal(v, &val); err != nil {
				return QueryResult{}, fmt.Errorf("record field %s: %w", k, err)
			}
			rec.Fields[k] = val
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

// Query runs a SOQL query and returns its first page.
func (d *DataAPI) Query(ctx context.Context, soql string) (QueryResult, error) {
	var raw rawQueryResult
	if err := d.do(ctx, http.MethodGet, d.BasePath()+"/query?q="+url.QueryEscape(soql), nil, &raw); err != nil {
		return QueryResult{}, err
	}
	return raw.decode()
}

// QueryMore fetches the page following prev.
func (d *DataAPI) QueryMore(ctx context.Context, prev QueryResult) (QueryResult, error) {
	if prev.Done || prev.NextRecordsURL == "" {
		return QueryResult{}, errors.New("query: no more records")
	}
	var raw rawQueryResult
	if err := d.do(ctx, http.MethodGet, prev.NextRecordsURL, nil, &raw); err != nil {
		return QueryResult{}, err
	}
	return raw.decode()
}

// QueryAll follows nextRecordsUrl until the result set is exhausted.
func (d *DataAPI) QueryAll(ctx context.Context, soql string) ([]Record, error) {
	page, err := d.Query(ctx, soql)
	if err != nil {
		return nil, err
	}
	recs := page.Records
	for !page.Done && page.NextRecordsURL != "" {
		if page, err = d.QueryMore(ctx, page); err != nil {
			return nil, err
		}
		recs = append(recs, page.Records...)
	}
	return recs, nil
}
