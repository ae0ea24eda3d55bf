package jsonblite

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// cborCodec is the default Codec.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

var jsonFriendlyMapType = reflect.TypeOf(map[string]interface{}(nil))

// jsonDecMode returns a CBOR decode mode that decodes maps into
// map[string]interface{} rather than the library's default
// map[interface{}]interface{}, so Dump can hand the result straight to
// encoding/json. A value whose CBOR map has non-string keys will fail to
// decode under this mode; dumpTo treats that as an entry to omit.
func jsonDecMode() (cbor.DecMode, error) {
	return cbor.DecOptions{DefaultMapType: jsonFriendlyMapType}.DecMode()
}
