package store

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/treesync/internal/attr"
)

// encMode uses Core Deterministic Encoding so equal values produce
// identical bytes.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any, matching the attr value
// model.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

// encodeValue encodes a leaf value or priority.
func encodeValue(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return data, nil
}

// decodeValue decodes a stored value back into the attr model.
func decodeValue(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	n, err := attr.Normalize(v)
	if err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return n, nil
}
