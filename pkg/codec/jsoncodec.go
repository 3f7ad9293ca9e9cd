// pkg/codec/jsoncodec.go
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
}

type jsonStrict struct{}

// JSONStrict rejects unknown fields and trailing content. Used for request
// bodies the service owns the schema of.
var JSONStrict Codec = jsonStrict{}

func (jsonStrict) Marshal(v any) ([]byte, error) { return marshalNoEscape(v) }

func (jsonStrict) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	// Trailing data must be EOF
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return fmt.Errorf("json trailing content")
	}
	return nil
}

func (jsonStrict) ContentType() string { return "application/json" }

type jsonLenient struct{}

// JSONLenient tolerates unknown fields. Salesforce payloads grow new keys
// between API versions.
var JSONLenient Codec = jsonLenient{}

func (jsonLenient) Marshal(v any) ([]byte, error) { return marshalNoEscape(v) }

func (jsonLenient) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("json decode: %w", err)
	}
	return nil
}

func (jsonLenient) ContentType() string { return "application/json" }

func marshalNoEscape(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
