//go:build ceph

/*
Copyright (C) 2024-2026  Carl-Philip Hänsch

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

package backend

import (
	"errors"
	"path"
	"strings"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephFactory roots every database's Store at a RADOS object name prefix.
type CephFactory struct {
	UserName    string // e.g. "client.admin" or "client.mardb"
	ClusterName string // often "ceph"
	ConfFile    string // optional
	Pool        string // e.g. "mardb"
	Prefix      string // base prefix; joined with the database name
}

func (f *CephFactory) ForDatabase(name string) Store {
	pfx := path.Join(strings.TrimSuffix(f.Prefix, "/"), name)
	return &CephStore{factory: f, prefix: pfx}
}

// CephStore stores every object as a single RADOS object named
// <prefix>/<name>, written in full on every mutation (RADOS has no rename,
// so Replace degrades to WriteFull like WriteFile - both are atomic from a
// reader's perspective since WriteFull replaces the object's contents in
// one call).
type CephStore struct {
	factory *CephFactory
	prefix  string

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func (s *CephStore) ensureOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return
	}

	conn, err := rados.NewConnWithClusterAndUser(s.factory.ClusterName, s.factory.UserName)
	if err != nil {
		panic(err)
	}
	if s.factory.ConfFile != "" {
		if err := conn.ReadConfigFile(s.factory.ConfFile); err != nil {
			panic(err)
		}
	} else {
		_ = conn.ReadDefaultConfigFile()
	}
	if err := conn.Connect(); err != nil {
		panic(err)
	}

	ioctx, err := conn.OpenIOContext(s.factory.Pool)
	if err != nil {
		conn.Shutdown()
		panic(err)
	}

	s.conn = conn
	s.ioctx = ioctx
	s.opened = true
}

func (s *CephStore) obj(name string) string {
	return path.Join(s.prefix, name)
}

func (s *CephStore) ReadFile(name string) ([]byte, error) {
	s.ensureOpen()
	obj := s.obj(name)
	stat, err := s.ioctx.Stat(obj)
	if err != nil {
		return nil, ErrNotExist
	}
	data := make([]byte, stat.Size)
	n, err := s.ioctx.Read(obj, data, 0)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

func (s *CephStore) write(name string, data []byte) error {
	s.ensureOpen()
	return s.ioctx.WriteFull(s.obj(name), data)
}

func (s *CephStore) WriteFile(name string, data []byte) error {
	return s.write(name, data)
}

func (s *CephStore) Replace(name string, data []byte) error {
	return s.write(name, data)
}

func (s *CephStore) Stat(name string) (Info, error) {
	s.ensureOpen()
	stat, err := s.ioctx.Stat(s.obj(name))
	if err != nil {
		return Info{}, ErrNotExist
	}
	return Info{Size: int64(stat.Size)}, nil
}

func (s *CephStore) Remove(name string) error {
	s.ensureOpen()
	err := s.ioctx.Delete(s.obj(name))
	if errors.Is(err, rados.ErrNotFound) {
		return nil
	}
	return err
}

func (s *CephStore) List(prefix string) ([]string, error) {
	s.ensureOpen()
	var names []string
	iter, err := s.ioctx.Iter()
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	want := s.obj(prefix)
	for iter.Next() {
		if strings.HasPrefix(iter.Value(), want) {
			names = append(names, strings.TrimPrefix(iter.Value(), s.prefix+"/"))
		}
	}
	return names, nil
}
