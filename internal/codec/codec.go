// Package codec implements a lossless byte/hex-byte JSON encoding: raw byte
// slices round-trip through a `BYTE__<hex>` string, and hex-tagged byte
// slices (this package's HexBytes) round-trip through `HEXB__<hex>`. It
// walks arbitrary Go values (maps, slices, structs) rather than a single
// known shape, since the Derived Store persists arbitrary handler-produced
// documents. The Raw Store does not call this package; it uses its own
// rawstore.Bytes/HexBytes types with the same two prefixes.
package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
)

const (
	bytePrefix = "BYTE__"
	hexPrefix  = "HEXB__"
)

// HexBytes marks a byte slice as "hex-tagged" (the Go analog of web3.py's
// HexBytes, used for hashes and similarly-typed fields) so it is encoded
// with the HEXB__ prefix instead of BYTE__.
type HexBytes []byte

// Encode marshals v to JSON, rewriting every []byte field to `BYTE__<hex>`
// and every HexBytes field to `HEXB__<hex>`.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(encodeValue(reflect.ValueOf(v)))
}

// Decode unmarshals data into a generic interface{} tree, restoring any
// BYTE__/HEXB__-prefixed string back into a []byte or HexBytes value.
func Decode(data []byte) (interface{}, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return decodeValue(generic), nil
}

func encodeValue(v reflect.Value) interface{} {
	if !v.IsValid() {
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Ptr:
		if v.IsNil() {
			return nil
		}
		return encodeValue(v.Elem())
	case reflect.Slice, reflect.Array:
		if v.Type() == reflect.TypeOf(HexBytes{}) {
			return hexPrefix + hex.EncodeToString(v.Bytes())
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(b), v)
			return bytePrefix + hex.EncodeToString(b)
		}
		out := make([]interface{}, v.Len())
		for i := 0; i < v.Len(); i++ {
			out[i] = encodeValue(v.Index(i))
		}
		return out
	case reflect.Map:
		out := make(map[string]interface{}, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = encodeValue(iter.Value())
		}
		return out
	case reflect.Struct:
		out := make(map[string]interface{})
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if f.PkgPath != "" { // unexported
				continue
			}
			name := f.Name
			if tag, ok := f.Tag.Lookup("json"); ok && tag != "" && tag != "-" {
				name = tag
				for i, c := range tag {
					if c == ',' {
						name = tag[:i]
						break
					}
				}
			}
			out[name] = encodeValue(v.Field(i))
		}
		return out
	default:
		if !v.IsValid() {
			return nil
		}
		return v.Interface()
	}
}

func decodeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		if len(t) > len(bytePrefix) && t[:len(bytePrefix)] == bytePrefix {
			b, err := hex.DecodeString(t[len(bytePrefix):])
			if err == nil {
				return b
			}
		}
		if len(t) > len(hexPrefix) && t[:len(hexPrefix)] == hexPrefix {
			b, err := hex.DecodeString(t[len(hexPrefix):])
			if err == nil {
				return HexBytes(b)
			}
		}
		return t
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = decodeValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = decodeValue(val)
		}
		return out
	default:
		return v
	}
}
