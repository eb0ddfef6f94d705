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
	"fmt"

	"github.com/mar-db/mardb/dberr"
	"github.com/mar-db/mardb/value"
)

func argString(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("missing argument %q", key))
	}
	s, ok := v.(string)
	if !ok {
		return "", dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("argument %q must be a string", key))
	}
	return s, nil
}

func argStringOptional(args map[string]any, key, def string) string {
	v, ok := args[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		return def
	}
	return s
}

func argStringSlice(args map[string]any, key string) ([]string, error) {
	v, ok := args[key]
	if !ok {
		return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("missing argument %q", key))
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("argument %q must be an array", key))
	}
	out := make([]string, len(raw))
	for i, elem := range raw {
		s, ok := elem.(string)
		if !ok {
			return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("argument %q[%d] must be a string", key, i))
		}
		out[i] = s
	}
	return out, nil
}

func argCords(args map[string]any, key string) ([]int64, error) {
	v, ok := args[key]
	if !ok {
		return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("missing argument %q", key))
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("argument %q must be an array", key))
	}
	cords := make([]int64, len(raw))
	for i, elem := range raw {
		val, err := jsonToValue(elem)
		if err != nil {
			return nil, dberr.Wrap(dberr.Protocol, "cacheserver", err)
		}
		n, ok := val.AsInt()
		if !ok {
			return nil, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("argument %q[%d] must be an integer", key, i))
		}
		cords[i] = n.Int64()
	}
	return cords, nil
}

func argValue(args map[string]any, key string) (value.Value, error) {
	v, ok := args[key]
	if !ok {
		return value.Value{}, dberr.Wrap(dberr.Protocol, "cacheserver", fmt.Errorf("missing argument %q", key))
	}
	val, err := jsonToValue(v)
	if err != nil {
		return value.Value{}, dberr.Wrap(dberr.Protocol, "cacheserver", err)
	}
	return val, nil
}
