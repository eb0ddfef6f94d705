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

// Package cacheserver exposes the storage engine over a TCP, framed-JSON
// protocol: each message is a 4-byte big-endian length followed by that many
// bytes of UTF-8 JSON. It adds an in-memory write-through cache in front of
// the engine with a background flush, so repeated writes to the same cord
// within a sync interval reach disk once instead of once per insert.
package cacheserver

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

const maxFrameLen = 64 << 20 // 64 MiB, generous enough for a full select_all reply

// Request is one decoded client message.
type Request struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

// Response is what every command replies with.
type Response struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func success(data any) Response { return Response{Status: "success", Data: data} }

func failure(msg string) Response { return Response{Status: "error", Message: msg} }

// readFrame reads one length-prefixed JSON message from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("cacheserver: frame of %d bytes exceeds limit %d", n, maxFrameLen)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// writeFrame writes v as one length-prefixed JSON message to w.
func writeFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// readRequest decodes one frame into a Request. It uses json.Number for
// numeric literals so jsonToValue can tell an integer literal from a float
// one without relying on float64's lossy round trip.
func readRequest(r io.Reader) (Request, error) {
	body, err := readFrame(r)
	if err != nil {
		return Request{}, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var req Request
	if err := dec.Decode(&req); err != nil {
		return Request{}, fmt.Errorf("cacheserver: malformed request frame: %w", err)
	}
	return req, nil
}
