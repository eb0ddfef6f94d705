/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package cacheserver

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/mar-db/mardb/value"
)

// bytesKey is the one-key-object convention used to carry raw bytes over
// JSON, which otherwise has no byte-string type: {"$bytes": "<base64>"}.
const bytesKey = "$bytes"

// jsonToValue converts a decoded JSON value (as produced by
// json.Decoder.UseNumber) into a storage value.Value. JSON numbers without a
// fractional part or exponent become arbitrary-precision integers; all
// others become floats.
func jsonToValue(v any) (value.Value, error) {
	switch x := v.(type) {
	case nil:
		return value.Null(), nil
	case bool:
		return value.NewBool(x), nil
	case string:
		return value.NewString(x), nil
	case json.Number:
		return jsonNumberToValue(string(x))
	case float64:
		// Only reachable if the caller decoded without UseNumber.
		return jsonNumberToValue(fmt.Sprintf("%v", x))
	case []any:
		items := make([]value.Value, len(x))
		for i, elem := range x {
			item, err := jsonToValue(elem)
			if err != nil {
				return value.Value{}, err
			}
			items[i] = item
		}
		return value.NewList(items), nil
	case map[string]any:
		if b64, ok := x[bytesKey]; ok && len(x) == 1 {
			s, ok := b64.(string)
			if !ok {
				return value.Value{}, fmt.Errorf("cacheserver: %q must be a base64 string", bytesKey)
			}
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return value.Value{}, fmt.Errorf("cacheserver: invalid base64 in %q: %w", bytesKey, err)
			}
			return value.NewBytes(raw), nil
		}
		entries := make([]value.MapEntry, 0, len(x))
		for k, mv := range x {
			mval, err := jsonToValue(mv)
			if err != nil {
				return value.Value{}, err
			}
			entries = append(entries, value.MapEntry{Key: value.NewString(k), Val: mval})
		}
		return value.NewMap(entries), nil
	default:
		return value.Value{}, fmt.Errorf("cacheserver: cannot convert %T to a value", v)
	}
}

// jsonNumberToValue classifies a JSON numeric literal's text: no '.' or
// exponent means an arbitrary-precision integer, otherwise a float64.
func jsonNumberToValue(literal string) (value.Value, error) {
	if i, ok := new(big.Int).SetString(literal, 10); ok {
		return value.NewInt(i), nil
	}
	var f float64
	if _, err := fmt.Sscanf(literal, "%g", &f); err != nil {
		return value.Value{}, fmt.Errorf("cacheserver: malformed JSON number %q", literal)
	}
	return value.NewFloat(f), nil
}

// valueToJSON converts a storage value.Value into something encoding/json
// can marshal. Types the wire-protocol's JSON shape has no native
// representation for cross in a textual or numeric form: decimals and dates
// as the binary codec's textual body, paths as strings, UUIDs in canonical
// form, durations as a number of seconds, rationals as "num/denom", and
// enums/flags as their inner value. Any other type crosses as its raw
// binary codec body in a string.
func valueToJSON(v value.Value) (any, error) {
	switch v.Tag() {
	case value.TagNull:
		return nil, nil
	case value.TagBool:
		b, _ := v.AsBool()
		return b, nil
	case value.TagString, value.TagPath:
		s, _ := v.AsString()
		return s, nil
	case value.TagInt:
		i, _ := v.AsInt()
		return json.Number(i.String()), nil
	case value.TagFloat:
		f, _ := v.AsFloat()
		return f, nil
	case value.TagBytes, value.TagByteBuffer, value.TagTypedArray:
		b, _ := v.AsBytes()
		return map[string]any{bytesKey: base64.StdEncoding.EncodeToString(b)}, nil
	case value.TagList, value.TagTuple, value.TagSet, value.TagFrozenSet, value.TagDeque:
		items, _ := v.AsItems()
		out := make([]any, len(items))
		for i, item := range items {
			jv, err := valueToJSON(item)
			if err != nil {
				return nil, err
			}
			out[i] = jv
		}
		return out, nil
	case value.TagMap, value.TagDefaultMap, value.TagOrderedMap, value.TagCounter:
		entries, _ := v.AsEntries()
		out := make(map[string]any, len(entries))
		for _, e := range entries {
			ks, ok := e.Key.AsString()
			if !ok {
				ks = fmt.Sprintf("%v", e.Key)
			}
			jv, err := valueToJSON(e.Val)
			if err != nil {
				return nil, err
			}
			out[ks] = jv
		}
		return out, nil
	case value.TagUUID:
		u, _ := v.AsUUID()
		return u.String(), nil
	case value.TagDuration:
		d, _ := v.AsDuration()
		return d.Seconds(), nil
	case value.TagRational:
		r, _ := v.AsRational()
		return r.Num.String() + "/" + r.Denom.String(), nil
	case value.TagEnum, value.TagFlag:
		inner, _ := v.AsBoxed()
		return valueToJSON(inner)
	default:
		_, body, err := value.EncodeBody(v)
		if err != nil {
			return nil, err
		}
		return string(body), nil
	}
}
