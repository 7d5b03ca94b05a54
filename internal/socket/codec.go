package socket

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// cborDec decodes binary frames. Maps decode with string keys so CBOR and
// JSON envelopes look the same to consumers.
var cborDec cbor.DecMode

func init() {
	var err error
	cborDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		DupMapKey:      cbor.DupMapKeyEnforcedAPF,
		IndefLength:    cbor.IndefLengthAllowed,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder mode: %v", err))
	}
}

// Envelope is a decoded inbound message.
type Envelope struct {
	Type   string
	UID    string
	Fields map[string]any
}

var errMissingType = errors.New("message has no type")

// Decode turns a frame into an Envelope. Text frames are JSON, binary frames
// are CBOR; both must be an object with a non-empty string "type".
func Decode(f Frame) (*Envelope, error) {
	var m map[string]any
	switch f.Type {
	case websocket.TextMessage:
		if err := json.Unmarshal(f.Data, &m); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
	case websocket.BinaryMessage:
		if err := cborDec.Unmarshal(f.Data, &m); err != nil {
			return nil, fmt.Errorf("decode cbor: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported frame type %d", f.Type)
	}

	t, _ := m["type"].(string)
	if t == "" {
		return nil, errMissingType
	}
	env := &Envelope{Type: t, Fields: m}
	switch uid := m["uid"].(type) {
	case nil:
	case string:
		env.UID = uid
	default:
		env.UID = fmt.Sprint(uid)
	}
	return env, nil
}

// Bind decodes the envelope's fields into v.
func (e *Envelope) Bind(v any) error {
	b, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Errorf("bind %s: %w", e.Type, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("bind %s: %w", e.Type, err)
	}
	return nil
}

func encode(msg any) ([]byte, error) {
	if b, ok := msg.([]byte); ok {
		return b, nil
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return b, nil
}
