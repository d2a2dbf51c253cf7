// Package storage implements a file of fixed-size records addressed by
// 1-based page ids, preceded by a header of little-endian 64-bit words.
//
// FILE LAYOUT:
// ┌──────────────────────────────────────────────────────────┐
// │ header: word[0] = record count, word[1..] owner defined   │
// ├──────────────────────────────────────────────────────────┤
// │ record 1                                                 │
// │ ...                                                      │
// │ record count                                             │
// ├──────────────────────────────────────────────────────────┤
// │ trailer words (optional, e.g. the index free list)       │
// └──────────────────────────────────────────────────────────┘
package storage

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/alexhholmes/blockriver/internal/base"
)

const wordSize = 8

var bin = binary.LittleEndian

// File is a record file. It is not safe for concurrent use.
type File struct {
	file       *os.File
	path       string
	header     []uint64
	recordSize int

	// Stats counters
	reads   uint64
	writes  uint64
	read    uint64
	written uint64
}

// Open opens or creates the record file at path. A missing or empty file is
// initialized with a zero header of headerWords words.
func Open(path string, headerWords, recordSize int) (*File, error) {
	if headerWords < 1 || recordSize < 1 {
		return nil, errors.Errorf("storage: invalid layout: %d header words, %d byte records", headerWords, recordSize)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}

	s := &File{
		file:       file,
		path:       path,
		header:     make([]uint64, headerWords),
		recordSize: recordSize,
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}

	if info.Size() == 0 {
		// New file - initialize
		if err := s.WriteHeader(); err != nil {
			file.Close()
			return nil, err
		}
	} else if err := s.loadHeader(info.Size()); err != nil {
		file.Close()
		return nil, err
	}

	// Page access is random; readahead only pollutes the page cache
	_ = adviseRandom(file)

	return s, nil
}

func (s *File) headerSize() int64 {
	return int64(len(s.header)) * wordSize
}

func (s *File) offset(id base.PageID) int64 {
	return s.headerSize() + int64(id-1)*int64(s.recordSize)
}

func (s *File) end() int64 {
	return s.headerSize() + int64(s.Count())*int64(s.recordSize)
}

func (s *File) loadHeader(size int64) error {
	if size < s.headerSize() {
		return errors.Wrapf(base.ErrCorruption, "%s: file is %d bytes, header needs %d", s.path, size, s.headerSize())
	}

	buf := make([]byte, s.headerSize())
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return errors.Wrapf(err, "read header of %s", s.path)
	}
	for i := range s.header {
		s.header[i] = bin.Uint64(buf[i*wordSize:])
	}

	if size < s.end() {
		return errors.Wrapf(base.ErrCorruption, "%s: header claims %d records, file holds %d bytes",
			s.path, s.Count(), size)
	}
	return nil
}

// Path returns the file name
func (s *File) Path() string {
	return s.path
}

// RecordSize returns the size of one record in bytes
func (s *File) RecordSize() int {
	return s.recordSize
}

// Count returns the number of records
func (s *File) Count() uint64 {
	return s.header[0]
}

// Header returns header word i
func (s *File) Header(i int) uint64 {
	return s.header[i]
}

// SetHeader sets header word i. The change reaches disk on the next
// WriteHeader, Sync or Close.
func (s *File) SetHeader(i int, v uint64) {
	s.header[i] = v
}

func (s *File) checkID(id base.PageID) error {
	if id == 0 || uint64(id) > s.Count() {
		return errors.Wrapf(base.ErrIndexOutOfBounds, "%s: record %d of %d", s.path, id, s.Count())
	}
	return nil
}

// Read reads record id into buf
func (s *File) Read(id base.PageID, buf []byte) error {
	if err := s.checkID(id); err != nil {
		return err
	}

	s.reads++
	n, err := s.file.ReadAt(buf[:s.recordSize], s.offset(id))
	s.read += uint64(n)
	if err != nil {
		return errors.Wrapf(err, "%s: read record %d", s.path, id)
	}
	return nil
}

// WillNeed hints that record id will be read soon
func (s *File) WillNeed(id base.PageID) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	if err := adviseWillNeed(s.file, s.offset(id), int64(s.recordSize)); err != nil {
		return errors.Wrapf(err, "%s: advise record %d", s.path, id)
	}
	return nil
}

// Write writes buf as record id
func (s *File) Write(id base.PageID, buf []byte) error {
	if err := s.checkID(id); err != nil {
		return err
	}
	return s.writeAt(id, buf)
}

func (s *File) writeAt(id base.PageID, buf []byte) error {
	s.writes++
	n, err := s.file.WriteAt(buf[:s.recordSize], s.offset(id))
	s.written += uint64(n)
	if err != nil {
		return errors.Wrapf(err, "%s: write record %d", s.path, id)
	}
	return nil
}

// Append grows the file by one record holding buf and returns its id
func (s *File) Append(buf []byte) (base.PageID, error) {
	id := base.PageID(s.Count() + 1)
	if err := s.writeAt(id, buf); err != nil {
		return 0, err
	}
	s.header[0]++
	return id, nil
}

// ReadTrailer reads n words stored after the last record
func (s *File) ReadTrailer(n int) ([]uint64, error) {
	if n == 0 {
		return nil, nil
	}

	buf := make([]byte, n*wordSize)
	if _, err := s.file.ReadAt(buf, s.end()); err != nil {
		return nil, errors.Wrapf(base.ErrCorruption, "%s: read %d trailer words: %v", s.path, n, err)
	}

	words := make([]uint64, n)
	for i := range words {
		words[i] = bin.Uint64(buf[i*wordSize:])
	}
	return words, nil
}

// WriteTrailer stores words after the last record and truncates anything
// beyond them.
func (s *File) WriteTrailer(words []uint64) error {
	end := s.end()
	if len(words) > 0 {
		buf := make([]byte, len(words)*wordSize)
		for i, w := range words {
			bin.PutUint64(buf[i*wordSize:], w)
		}
		if _, err := s.file.WriteAt(buf, end); err != nil {
			return errors.Wrapf(err, "%s: write trailer", s.path)
		}
	}

	if err := s.file.Truncate(end + int64(len(words))*wordSize); err != nil {
		return errors.Wrapf(err, "%s: truncate", s.path)
	}
	return nil
}

// WriteHeader writes the in-memory header to disk
func (s *File) WriteHeader() error {
	buf := make([]byte, s.headerSize())
	for i, w := range s.header {
		bin.PutUint64(buf[i*wordSize:], w)
	}
	if _, err := s.file.WriteAt(buf, 0); err != nil {
		return errors.Wrapf(err, "%s: write header", s.path)
	}
	return nil
}

// Reset drops every record and zeroes the header
func (s *File) Reset() error {
	clear(s.header)
	if err := s.file.Truncate(0); err != nil {
		return errors.Wrapf(err, "%s: truncate", s.path)
	}
	return s.WriteHeader()
}

// Sync writes the header and flushes file data to stable storage
func (s *File) Sync() error {
	if err := s.WriteHeader(); err != nil {
		return err
	}
	if err := fdatasync(s.file); err != nil {
		return errors.Wrapf(err, "%s: sync", s.path)
	}
	return nil
}

// Close writes the header and closes the file
func (s *File) Close() error {
	if s.file == nil {
		return nil
	}

	err := s.WriteHeader()
	if cerr := s.file.Close(); err == nil && cerr != nil {
		err = errors.Wrapf(cerr, "close %s", s.path)
	}
	s.file = nil
	return err
}

// Stats holds I/O statistics
type Stats struct {
	Reads   uint64
	Writes  uint64
	Read    uint64
	Written uint64
}

// Stats returns I/O statistics
func (s *File) Stats() Stats {
	return Stats{
		Reads:   s.reads,
		Writes:  s.writes,
		Read:    s.read,
		Written: s.written,
	}
}
