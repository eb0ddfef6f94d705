/*
Copyright (C) 2024  Carl-Philip Hänsch

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
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"
)

// FileFactory roots every database's Store under Basepath/<dbname>/.
type FileFactory struct {
	Basepath string
}

func (f *FileFactory) ForDatabase(name string) Store {
	return &FileStore{root: filepath.Join(f.Basepath, name)}
}

// FileStore is the default, local-filesystem persistence backend.
type FileStore struct {
	root string
}

// NewFileStore builds a Store rooted directly at root, with no per-database
// subdirectory. The catalog itself (a single *.marm path chosen by the
// caller) uses this form.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.root, name)
}

// LocalPath resolves name to an absolute filesystem path, for callers that
// need to hand it to something outside the Store abstraction (fsnotify's
// watch list, most notably). It implements the optional LocalPathResolver
// interface.
func (s *FileStore) LocalPath(name string) (string, bool) {
	return s.path(name), true
}

// LocalPathResolver is implemented by Store backends that are addressable
// on the local filesystem. Backends without a local path (S3, Ceph) simply
// don't implement it; callers type-assert for it.
type LocalPathResolver interface {
	LocalPath(name string) (string, bool)
}

func (s *FileStore) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, err
	}
	return data, nil
}

func (s *FileStore) WriteFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path(name)), 0750); err != nil {
		return err
	}
	return os.WriteFile(s.path(name), data, 0640)
}

func (s *FileStore) Replace(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path(name)), 0750); err != nil {
		return err
	}
	return atomic.WriteFile(s.path(name), bytes.NewReader(data))
}

func (s *FileStore) Stat(name string) (Info, error) {
	fi, err := os.Stat(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Info{}, ErrNotExist
		}
		return Info{}, err
	}
	return Info{Size: fi.Size()}, nil
}

func (s *FileStore) Remove(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *FileStore) List(prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), prefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
