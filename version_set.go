// Copyright 2026 The Shale Authors. All rights reserved. Use of this source
// code is governed by a BSD-style license that can be found in the LICENSE
// file.

package shale

import (
	"fmt"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/shaledb/shale/internal/base"
	"github.com/shaledb/shale/record"
	"github.com/shaledb/shale/vfs"
)

// versionSet manages a collection of immutable versions, and manages the
// creation of a new version from the most recent version. A new version is
// created from an existing version by applying a version edit which is just
// like it sounds: a delta from the previous version. Version edits are
// logged to the MANIFEST file, which is replayed at startup.
type versionSet struct {
	// Immutable fields.
	dirname string
	fs      vfs.FS
	opts    *Options
	cmp     *base.Comparer

	// mu is the DB mutex.
	mu *sync.Mutex

	// versions is the list of live versions. The current version is the
	// tail of the list.
	versions versionList

	// obsoleteTables holds the file numbers of tables which are no longer
	// referenced by any live version and are waiting to be deleted.
	obsoleteTables []uint64

	logNumber          uint64
	prevLogNumber      uint64
	nextFileNumber     uint64
	lastSequence       base.SeqNum
	manifestFileNumber uint64

	// compactPointers are the per-level keys at which the next compaction
	// at that level should start. They implement round-robin compaction
	// within a level, and are persisted in the MANIFEST.
	compactPointers [numLevels]base.InternalKey

	manifestFile vfs.File
	manifest     *record.Writer

	writing    bool
	writerCond sync.Cond
}

func (vs *versionSet) init(dirname string, opts *Options, mu *sync.Mutex) {
	vs.dirname = dirname
	vs.fs = opts.FS
	vs.opts = opts
	vs.cmp = opts.Comparer
	vs.mu = mu
	vs.writerCond.L = mu
	vs.versions.init()
	vs.nextFileNumber = 1
}

// create creates a version set for a fresh DB.
func (vs *versionSet) create(dirname string, opts *Options, mu *sync.Mutex) error {
	vs.init(dirname, opts, mu)
	vs.append(&version{deleted: vs.addObsolete})

	// Note that a "snapshot" version edit is written to the manifest when
	// it is created.
	vs.manifestFileNumber = vs.getNextFileNum()
	if err := vs.createManifest(dirname, vs.manifestFileNumber); err != nil {
		return err
	}
	if err := vs.manifest.Flush(); err != nil {
		return err
	}
	if err := vs.manifestFile.Sync(); err != nil {
		return err
	}
	return setCurrentFile(dirname, vs.fs, vs.manifestFileNumber)
}

// load loads the version set from the manifest named by the CURRENT file.
func (vs *versionSet) load(dirname string, opts *Options, mu *sync.Mutex) error {
	vs.init(dirname, opts, mu)

	// Read the CURRENT file to find the current manifest file.
	current, err := vs.fs.Open(dbFilename(dirname, fileTypeCurrent, 0))
	if err != nil {
		return errors.Wrapf(err, "shale: could not open CURRENT file for DB %q", dirname)
	}
	defer current.Close()
	stat, err := current.Stat()
	if err != nil {
		return err
	}
	n := stat.Size()
	if n == 0 {
		return errors.Errorf("shale: CURRENT file for DB %q is empty", dirname)
	}
	if n > 4096 {
		return errors.Errorf("shale: CURRENT file for DB %q is too large", dirname)
	}
	b := make([]byte, n)
	if _, err := current.ReadAt(b, 0); err != nil {
		return err
	}
	if b[n-1] != '\n' {
		return base.CorruptionErrorf("shale: CURRENT file for DB %q is malformed", dirname)
	}
	b = b[:n-1]

	// Read the versionEdits in the manifest file.
	var bve bulkVersionEdit
	manifest, err := vs.fs.Open(vs.fs.PathJoin(dirname, string(b)))
	if err != nil {
		return errors.Wrapf(err, "shale: could not open manifest file %q for DB %q",
			b, dirname)
	}
	defer manifest.Close()
	rr := record.NewReader(manifest)
	for {
		r, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var ve versionEdit
		if err := ve.decode(r); err != nil {
			return err
		}
		if ve.comparatorName != "" {
			if ve.comparatorName != vs.cmp.Name {
				return errors.Errorf("shale: manifest file %q for DB %q: "+
					"comparer name from file %q != comparer name from Options %q",
					b, dirname, ve.comparatorName, vs.cmp.Name)
			}
		}
		bve.accumulate(&ve)
		if ve.logNumber != 0 {
			vs.logNumber = ve.logNumber
		}
		if ve.prevLogNumber != 0 {
			vs.prevLogNumber = ve.prevLogNumber
		}
		if ve.nextFileNumber != 0 {
			vs.nextFileNumber = ve.nextFileNumber
		}
		if ve.lastSequence != 0 {
			vs.lastSequence = ve.lastSequence
		}
		for _, cp := range ve.compactPointers {
			vs.compactPointers[cp.level] = cp.key
		}
	}
	if vs.logNumber == 0 || vs.nextFileNumber == 0 {
		if vs.nextFileNumber == 2 {
			// We have a freshly created DB.
		} else {
			return base.CorruptionErrorf("shale: incomplete manifest file %q for DB %q",
				b, dirname)
		}
	}
	vs.markFileNumUsed(vs.logNumber)
	vs.markFileNumUsed(vs.prevLogNumber)

	newVersion, err := bve.apply(nil, vs.cmp.Compare)
	if err != nil {
		return err
	}
	newVersion.deleted = vs.addObsolete
	vs.append(newVersion)
	return nil
}

// close closes the manifest.
func (vs *versionSet) close() error {
	if vs.manifest != nil {
		if err := vs.manifest.Close(); err != nil {
			return err
		}
	}
	if vs.manifestFile != nil {
		if err := vs.manifestFile.Close(); err != nil {
			return err
		}
	}
	return nil
}

// logAndApply logs the version edit to the manifest, applies it to the
// current version and installs the new version. DB.mu must be held when
// calling this method; it is released during manifest I/O and re-acquired
// before returning.
func (vs *versionSet) logAndApply(jobID int, ve *versionEdit) error {
	// Wait for any in-flight manifest write to complete.
	for vs.writing {
		vs.writerCond.Wait()
	}
	vs.writing = true
	defer func() {
		vs.writing = false
		vs.writerCond.Signal()
	}()

	if ve.logNumber != 0 {
		if ve.logNumber < vs.logNumber || vs.nextFileNumber <= ve.logNumber {
			panic(fmt.Sprintf("shale: inconsistent versionEdit logNumber %d", ve.logNumber))
		}
	}
	ve.nextFileNumber = vs.nextFileNumber
	ve.lastSequence = vs.lastSequence

	var bve bulkVersionEdit
	bve.accumulate(ve)
	newVersion, err := bve.apply(vs.currentVersion(), vs.cmp.Compare)
	if err != nil {
		return err
	}
	newVersion.deleted = vs.addObsolete

	// Grow the manifest, rolling it over to a new file when it gets too
	// large, and update CURRENT if needed. The manifest I/O happens outside
	// of the DB mutex.
	newManifestFileNumber := uint64(0)
	if vs.manifest == nil || vs.manifest.Size() >= vs.opts.MaxManifestFileSize {
		newManifestFileNumber = vs.getNextFileNum()
	}
	vs.mu.Unlock()
	err = func() error {
		if newManifestFileNumber != 0 {
			if err := vs.createManifest(vs.dirname, newManifestFileNumber); err != nil {
				vs.opts.EventListener.ManifestCreated(ManifestCreateInfo{
					JobID:   jobID,
					Path:    dbFilename(vs.dirname, fileTypeManifest, newManifestFileNumber),
					FileNum: newManifestFileNumber,
					Err:     err,
				})
				return err
			}
		}
		w, err := vs.manifest.Next()
		if err != nil {
			return err
		}
		if err := ve.encode(w); err != nil {
			return err
		}
		if err := vs.manifest.Flush(); err != nil {
			return err
		}
		if err := vs.manifestFile.Sync(); err != nil {
			return err
		}
		if newManifestFileNumber != 0 {
			if err := setCurrentFile(vs.dirname, vs.fs, newManifestFileNumber); err != nil {
				return err
			}
			vs.opts.EventListener.ManifestCreated(ManifestCreateInfo{
				JobID:   jobID,
				Path:    dbFilename(vs.dirname, fileTypeManifest, newManifestFileNumber),
				FileNum: newManifestFileNumber,
			})
		}
		return nil
	}()
	vs.mu.Lock()
	if err != nil {
		return err
	}

	// Update the state and install the new version.
	if newManifestFileNumber != 0 {
		vs.manifestFileNumber = newManifestFileNumber
	}
	if ve.logNumber != 0 {
		vs.logNumber = ve.logNumber
	}
	vs.prevLogNumber = ve.prevLogNumber
	for _, cp := range ve.compactPointers {
		vs.compactPointers[cp.level] = cp.key
	}
	vs.append(newVersion)
	return nil
}

// createManifest creates a manifest file that contains a snapshot of vs.
func (vs *versionSet) createManifest(dirname string, fileNumber uint64) (err error) {
	var (
		filename     = dbFilename(dirname, fileTypeManifest, fileNumber)
		manifestFile vfs.File
		manifest     *record.Writer
	)
	defer func() {
		if manifest != nil {
			manifest.Close()
		}
		if manifestFile != nil {
			manifestFile.Close()
		}
		if err != nil {
			vs.fs.Remove(filename)
		}
	}()
	manifestFile, err = vs.fs.Create(filename)
	if err != nil {
		return err
	}
	manifest = record.NewWriter(manifestFile)

	snapshot := versionEdit{
		comparatorName: vs.cmp.Name,
		lastSequence:   vs.lastSequence,
		logNumber:      vs.logNumber,
		nextFileNumber: vs.nextFileNumber,
		prevLogNumber:  vs.prevLogNumber,
	}
	for level, key := range vs.compactPointers {
		if key.UserKey != nil {
			snapshot.compactPointers = append(snapshot.compactPointers,
				compactPointerEntry{level, key})
		}
	}
	if cv := vs.currentVersion(); cv != nil {
		for level, fileMetadata := range cv.files {
			for _, meta := range fileMetadata {
				snapshot.newFiles = append(snapshot.newFiles, newFileEntry{
					level: level,
					meta:  meta,
				})
			}
		}
	}

	w, err1 := manifest.Next()
	if err1 != nil {
		return err1
	}
	if err := snapshot.encode(w); err != nil {
		return err
	}

	if vs.manifest != nil {
		vs.manifest.Close()
		vs.manifest = nil
	}
	if vs.manifestFile != nil {
		vs.manifestFile.Close()
		vs.manifestFile = nil
	}

	vs.manifest, manifest = manifest, nil
	vs.manifestFile, manifestFile = manifestFile, nil
	return nil
}

func (vs *versionSet) markFileNumUsed(fileNum uint64) {
	if vs.nextFileNumber <= fileNum {
		vs.nextFileNumber = fileNum + 1
	}
}

func (vs *versionSet) getNextFileNum() uint64 {
	x := vs.nextFileNumber
	vs.nextFileNumber++
	return x
}

func (vs *versionSet) append(v *version) {
	if v.refs != 0 {
		panic("shale: version should be unreferenced")
	}
	if !vs.versions.empty() {
		vs.versions.back().unref()
	}
	v.ref()
	vs.versions.pushBack(v)
}

func (vs *versionSet) currentVersion() *version {
	return vs.versions.back()
}

// addLiveFileNums adds the file numbers referenced by any live version to
// the given map.
func (vs *versionSet) addLiveFileNums(m map[uint64]struct{}) {
	for v := vs.versions.front(); v != nil; v = vs.versions.next(v) {
		for _, files := range v.files {
			for i := range files {
				m[files[i].fileNum] = struct{}{}
			}
		}
	}
}

func (vs *versionSet) addObsolete(fileNums []uint64) {
	vs.obsoleteTables = append(vs.obsoleteTables, fileNums...)
}
