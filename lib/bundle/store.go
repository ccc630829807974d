// Copyright 2026 The Warrant Authors
// SPDX-License-Identifier: Apache-2.0

// Package bundle stores shared read-only content snapshots addressed
// by content hash.
//
// A bundle is a named set of files (utility scripts, reference data)
// that many runs can be granted access to without re-provisioning.
// Creation is content-addressed: creating a bundle whose canonical
// content hashes identically to an existing one returns a fresh token
// for the existing snapshot rather than storing a duplicate.
package bundle

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/warrant-foundation/warrant/lib/capability"
	"github.com/warrant-foundation/warrant/lib/resource"
)

// ErrNoSuchFile is returned by Bundle.File for names the bundle does
// not contain.
var ErrNoSuchFile = errors.New("bundle: no such file")

// storedFile is one file's at-rest form. Payloads are zstd-compressed
// unless compression did not shrink them.
type storedFile struct {
	payload    []byte
	size       int
	compressed bool
}

// Bundle is an immutable snapshot resolved from a capability token.
type Bundle struct {
	id    resource.ID
	hash  Hash
	files map[string]storedFile
}

// ID returns the bundle's directory identifier.
func (b *Bundle) ID() resource.ID { return b.id }

// Hash returns the content hash the bundle is addressed by.
func (b *Bundle) Hash() Hash { return b.hash }

// Names returns the bundle's file names in sorted order.
func (b *Bundle) Names() []string {
	names := make([]string, 0, len(b.files))
	for name := range b.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// File returns the named file's content, decompressing on demand.
func (b *Bundle) File(name string) ([]byte, error) {
	stored, ok := b.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchFile, name)
	}
	if !stored.compressed {
		content := make([]byte, len(stored.payload))
		copy(content, stored.payload)
		return content, nil
	}
	content, err := zstdDecoder.DecodeAll(stored.payload, make([]byte, 0, stored.size))
	if err != nil {
		return nil, fmt.Errorf("bundle: decompressing %q: %w", name, err)
	}
	if len(content) != stored.size {
		return nil, fmt.Errorf("bundle: %q decompressed to %d bytes, want %d", name, len(content), stored.size)
	}
	return content, nil
}

// Store creates and resolves bundles. Safe for concurrent use.
type Store struct {
	registry  *capability.Registry
	directory *resource.Directory
	logger    *slog.Logger

	mu     sync.Mutex
	byHash map[Hash]resource.ID
}

// NewStore creates a store issuing capabilities from registry and
// registering snapshots in directory.
func NewStore(registry *capability.Registry, directory *resource.Directory, logger *slog.Logger) *Store {
	return &Store{
		registry:  registry,
		directory: directory,
		logger:    logger,
		byHash:    make(map[Hash]resource.ID),
	}
}

// Create stores a snapshot of files and returns a capability token
// for it. Identical content returns a fresh token for the existing
// snapshot (deduplication is at the resource; every returned token
// resolves to the shared snapshot). Bundles are immutable, so the
// issued permission set is read-only — there is nothing wider to
// grant.
func (s *Store) Create(files map[string][]byte, grantedBy string) (capability.Token, error) {
	if len(files) == 0 {
		return capability.Token{}, fmt.Errorf("bundle: at least one file is required")
	}

	hash := hashFiles(files)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byHash[hash]; ok {
		token, err := s.registry.Issue(capability.ResourceSharedBundle, string(id), capability.PermRead, grantedBy)
		if err != nil {
			return capability.Token{}, err
		}
		s.logger.Debug("bundle deduplicated", "bundle_id", id, "hash", hash)
		return token, nil
	}

	bundle := &Bundle{
		id:    resource.ID("bundle-" + hash.String()[:12]),
		hash:  hash,
		files: make(map[string]storedFile, len(files)),
	}
	for name, content := range files {
		bundle.files[name] = compressFile(content)
	}

	token, err := s.registry.Issue(capability.ResourceSharedBundle, string(bundle.id), capability.PermRead, grantedBy)
	if err != nil {
		return capability.Token{}, err
	}
	s.directory.Register(bundle.id, bundle)
	s.byHash[hash] = bundle.id

	s.logger.Info("bundle created", "bundle_id", bundle.id, "files", len(files), "hash", hash)
	return token, nil
}

// Open resolves a token to its bundle. Requires read permission. A
// token whose snapshot has been torn down fails as an invalid token —
// the capability no longer names anything.
func (s *Store) Open(token capability.Token) (*Bundle, error) {
	record, err := s.registry.Validate(token)
	if err != nil {
		return nil, err
	}
	if record.ResourceType != capability.ResourceSharedBundle {
		return nil, fmt.Errorf("bundle: token names a %s, not a shared bundle", record.ResourceType)
	}
	if !record.Permissions.Has(capability.PermRead) {
		return nil, fmt.Errorf("bundle: capability lacks read permission")
	}

	handle, err := s.directory.Lookup(resource.ID(record.ResourceID))
	if err != nil {
		return nil, fmt.Errorf("%w: bundle %s is gone", capability.ErrInvalidToken, record.ResourceID)
	}
	bundle, ok := handle.(*Bundle)
	if !ok {
		return nil, fmt.Errorf("%w: bundle %s is gone", capability.ErrInvalidToken, record.ResourceID)
	}
	return bundle, nil
}

// Remove drops a snapshot from the store and directory. Outstanding
// tokens subsequently fail to resolve. The next Create with the same
// content provisions a fresh snapshot.
func (s *Store) Remove(id resource.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, stored := range s.byHash {
		if stored == id {
			delete(s.byHash, hash)
		}
	}
	s.directory.Remove(id)
	s.registry.RevokeAllForResource(string(id))
}

// compressFile zstd-compresses content, falling back to storing it
// raw when compression does not shrink it.
func compressFile(content []byte) storedFile {
	compressed := zstdEncoder.EncodeAll(content, nil)
	if len(compressed) >= len(content) {
		raw := make([]byte, len(content))
		copy(raw, content)
		return storedFile{payload: raw, size: len(content), compressed: false}
	}
	return storedFile{payload: compressed, size: len(content), compressed: true}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("bundle: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("bundle: zstd decoder initialization failed: " + err.Error())
	}
}
