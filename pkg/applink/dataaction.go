package applink

import (
	"errors"
	"time"

	"github.com/tidwall/gjson"
)

var ErrInvalidDataAction = errors.New("data action event: invalid payload")

// DataActionEvent is one event delivered to a Data Cloud data action target.
type DataActionEvent struct {
	ActionDeveloperName       string
	EventType                 string
	EventPrompt               string
	SourceObjectDeveloperName string
	PublishedAt               time.Time
	// Current and Previous are raw JSON objects; the platform sends them either
	// inline or as JSON encoded strings.
	Current  string
	Previous string
	Metadata string
}

// DataActionRequest is the parsed body of a data action target request.
type DataActionRequest struct {
	Events    []DataActionEvent
	SchemaIDs []string
}

// ParseDataActionEvent parses a data action target body. It does not need a
// client context: data action targets are called by Data Cloud directly.
func ParseDataActionEvent(body []byte) (DataActionRequest, error) {
	if !gjson.ValidBytes(body) {
		return DataActionRequest{}, ErrInvalidDataAction
	}
	root := gjson.ParseBytes(body)
	events := root.Get("events")
	if !events.IsArray() {
		return DataActionRequest{}, errors.Join(ErrInvalidDataAction, errors.New("events array missing"))
	}

	var out DataActionRequest
	events.ForEach(func(_, e gjson.Result) bool {
		ev := DataActionEvent{
			ActionDeveloperName:       e.Get("ActionDeveloperName").String(),
			EventType:                 e.Get("EventType").String(),
			EventPrompt:               e.Get("EventPrompt").String(),
			SourceObjectDeveloperName: e.Get("SourceObjectDeveloperName").String(),
			Current:                   rawOrString(e.Get("PayloadCurrentValue")),
			Previous:                  rawOrString(e.Get("PayloadPrevValue")),
			Metadata:                  rawOrString(e.Get("PayloadMetadata")),
		}
		if ts := e.Get("EventPublishDateTime").String(); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				ev.PublishedAt = t
			}
		}
		out.Events = append(out.Events, ev)
		return true
	})
	root.Get("schemas.#.schemaId").ForEach(func(_, v gjson.Result) bool {
		out.SchemaIDs = append(out.SchemaIDs, v.String())
		return true
	})
	return out, nil
}

func rawOrString(v gjson.Result) string {
	if !v.Exists() {
		return ""
	}
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}

// Field reads a dotted path from the event's current value.
func (e DataActionEvent) Field(path string) string {
	if e.Current == "" {
		return ""
	}
	return gjson.Get(e.Current, path).String()
}
