/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package schema

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/amtp-protocol/schemavault/internal/errors"
)

const (
	defaultDirPerm  os.FileMode = 0755
	defaultFilePerm os.FileMode = 0644
	tempPrefix                  = ".tmp-"
)

// writeFunc writes data to an open temp file
type writeFunc func(f *os.File, data []byte) (int, error)

// FileStore performs crash-safe writes of schema files. A reader never sees
// a partially written file at a final path.
type FileStore struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
	write    writeFunc
}

// NewFileStore creates a file store with default permissions
func NewFileStore() *FileStore {
	return &FileStore{
		dirPerm:  defaultDirPerm,
		filePerm: defaultFilePerm,
		write: func(f *os.File, data []byte) (int, error) {
			return f.Write(data)
		},
	}
}

// Write durably stores data at path in one step
func (fs *FileStore) Write(path string, data []byte) error {
	staged, err := fs.Stage(path, data)
	if err != nil {
		return err
	}
	if err := staged.Publish(); err != nil {
		_ = staged.Rollback()
		return err
	}
	return staged.Finalize()
}

// Stage writes data to a synced temp file next to path. Nothing is visible
// at path until Publish.
func (fs *FileStore) Stage(path string, data []byte) (*StagedFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, fs.dirPerm); err != nil {
		return nil, errors.NewStorageWriteError(path, err)
	}

	// Same directory keeps the rename on one filesystem
	tmp, err := os.CreateTemp(dir, tempPrefix+filepath.Base(path)+"-*")
	if err != nil {
		return nil, errors.NewStorageWriteError(path, err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(fs.filePerm); err != nil {
		return nil, errors.NewStorageWriteError(path, err)
	}

	n, err := fs.write(tmp, data)
	if err == nil && n < len(data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return nil, errors.NewStorageWriteError(path, err)
	}

	if err := tmp.Sync(); err != nil {
		return nil, errors.NewStorageWriteError(path, err)
	}

	if err := tmp.Close(); err != nil {
		return nil, errors.NewStorageWriteError(path, err)
	}

	success = true
	return &StagedFile{path: path, tempPath: tmpName}, nil
}

// Read returns the bytes stored at path
func (fs *FileStore) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove deletes path; a missing file is not an error
func (fs *FileStore) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// StagedFile is a durable temp file waiting to be published at its path
type StagedFile struct {
	path       string
	tempPath   string
	backupPath string
	published  os.FileInfo
}

// Path returns the final destination
func (s *StagedFile) Path() string {
	return s.path
}

// Publish atomically renames the staged file into place. A file already at
// the destination is kept as a hard-linked backup until Finalize or Rollback.
func (s *StagedFile) Publish() error {
	if s.published != nil {
		return nil
	}

	info, err := os.Lstat(s.path)
	switch {
	case err == nil && info.Mode().IsRegular():
		backup := s.tempPath + ".bak"
		if err := os.Link(s.path, backup); err != nil {
			return errors.NewStorageWriteError(s.path, fmt.Errorf("failed to keep previous file: %w", err))
		}
		s.backupPath = backup
	case err == nil:
		return errors.NewStorageWriteError(s.path, fmt.Errorf("destination is not a regular file"))
	case !os.IsNotExist(err):
		return errors.NewStorageWriteError(s.path, err)
	}

	if err := os.Rename(s.tempPath, s.path); err != nil {
		s.dropBackup()
		return errors.NewStorageWriteError(s.path, err)
	}
	syncDir(filepath.Dir(s.path))

	published, err := os.Stat(s.path)
	if err != nil {
		return errors.NewStorageWriteError(s.path, err)
	}
	s.published = published
	return nil
}

// Rollback undoes Stage or Publish. After a publish the previous file is
// restored, or the new file removed, but only while the destination still
// holds the file this StagedFile published.
func (s *StagedFile) Rollback() error {
	if s.published == nil {
		if err := os.Remove(s.tempPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove staged file %s: %w", s.tempPath, err)
		}
		return nil
	}

	current, err := os.Stat(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to inspect %s: %w", s.path, err)
	}
	ours := err == nil && os.SameFile(current, s.published)

	if !ours {
		s.dropBackup()
		s.published = nil
		return nil
	}

	if s.backupPath != "" {
		if err := os.Rename(s.backupPath, s.path); err != nil {
			return fmt.Errorf("failed to restore previous file %s: %w", s.path, err)
		}
		s.backupPath = ""
	} else if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove orphaned file %s: %w", s.path, err)
	}

	syncDir(filepath.Dir(s.path))
	s.published = nil
	return nil
}

// Finalize releases the backup kept by Publish
func (s *StagedFile) Finalize() error {
	if s.backupPath == "" {
		return nil
	}
	if err := os.Remove(s.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove backup %s: %w", s.backupPath, err)
	}
	s.backupPath = ""
	return nil
}

func (s *StagedFile) dropBackup() {
	if s.backupPath != "" {
		_ = os.Remove(s.backupPath)
		s.backupPath = ""
	}
}

// syncDir flushes a directory entry after rename. Errors are ignored since
// not every platform supports syncing directories.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
