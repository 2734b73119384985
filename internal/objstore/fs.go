// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/mediasearch/internal/log"
	"github.com/ManuGH/mediasearch/internal/model"
	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"
)

// FSStore is a filesystem-backed object store for the local backend.
// Buckets are directories under the root; keys may contain slashes.
type FSStore struct {
	root string
}

// NewFSStore creates the store root if needed.
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, fmt.Errorf("object store root required")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create object store root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(bucket, key string) (string, error) {
	p := filepath.Join(s.root, bucket, filepath.FromSlash(key))
	base := filepath.Join(s.root, bucket)
	if rel, err := filepath.Rel(base, p); err != nil || strings.HasPrefix(rel, "..") {
		return "", model.E(model.KindInvalidInput, "bad_object_key", "object key escapes bucket: %q", key)
	}
	return p, nil
}

func (s *FSStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, model.E(model.KindNotFound, "object_missing", "object %s/%s not found", bucket, key)
	}
	if err != nil {
		return nil, model.WrapErr(model.KindTransientResource, "object_read_failed", err)
	}
	return data, nil
}

func (s *FSStore) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return ObjectInfo{}, model.E(model.KindNotFound, "object_missing", "object %s/%s not found", bucket, key)
	}
	if err != nil {
		return ObjectInfo{}, model.WrapErr(model.KindTransientResource, "object_stat_failed", err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return ObjectInfo{}, model.WrapErr(model.KindTransientResource, "object_read_failed", err)
	}
	return ObjectInfo{
		Bucket:      bucket,
		Key:         key,
		ETag:        contentETag(data),
		Size:        info.Size(),
		ContentType: contentTypeFor(key),
		ModTime:     info.ModTime().UTC(),
	}, nil
}

func (s *FSStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return false, nil
	} else if err != nil {
		return false, model.WrapErr(model.KindTransientResource, "object_stat_failed", err)
	}
	return true, nil
}

func (s *FSStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	base := filepath.Join(s.root, bucket)
	var out []ObjectInfo
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.Head(ctx, bucket, key)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, model.WrapErr(model.KindTransientResource, "object_list_failed", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FSStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return model.WrapErr(model.KindTransientResource, "object_write_failed", err)
	}
	// Atomic write so pollers never observe a half-written object.
	if err := renameio.WriteFile(p, data, 0o640); err != nil {
		return model.WrapErr(model.KindTransientResource, "object_write_failed", err)
	}
	return nil
}

func (s *FSStore) Delete(ctx context.Context, bucket, key string) error {
	p, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return model.WrapErr(model.KindTransientResource, "object_delete_failed", err)
	}
	return nil
}

func (s *FSStore) PresignedURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	p, err := s.path(bucket, key)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", model.WrapErr(model.KindInternal, "presign_failed", err)
	}
	return "file://" + filepath.ToSlash(abs), nil
}

// Subscribe combines an fsnotify watch on the bucket directory with a
// periodic rescan. The rescan is the source of truth; watch events only
// shorten the latency between change and delivery.
func (s *FSStore) Subscribe(ctx context.Context, bucket string, h EventHandler) error {
	base := filepath.Join(s.root, bucket)
	if err := os.MkdirAll(base, 0o750); err != nil {
		return fmt.Errorf("create bucket dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	if err := watcher.Add(base); err != nil {
		return fmt.Errorf("watch %s: %w", base, err)
	}

	logger := log.WithComponent("objstore.fs")
	seen := make(map[string]string) // key -> etag

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	scan := func() {
		if err := s.rescan(ctx, bucket, seen, h); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Str(log.FieldBucket, bucket).Msg("bucket rescan failed")
		}
	}
	scan()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			scan()
		case _, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			scan()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("fsnotify error")
		}
	}
}

// rescan diffs the bucket listing against the seen set and delivers events.
func (s *FSStore) rescan(ctx context.Context, bucket string, seen map[string]string, h EventHandler) error {
	objects, err := s.List(ctx, bucket, "")
	if err != nil {
		return err
	}

	current := make(map[string]bool, len(objects))
	for _, obj := range objects {
		current[obj.Key] = true
		if seen[obj.Key] == obj.ETag {
			continue
		}
		evt := model.ObjectEvent{
			Type:        model.ObjectCreated,
			Bucket:      bucket,
			ObjectKey:   obj.Key,
			ETag:        obj.ETag,
			Size:        obj.Size,
			ContentType: obj.ContentType,
			ModTime:     obj.ModTime,
		}
		if err := h(ctx, evt); err != nil {
			// Leave unseen so the next rescan redelivers.
			continue
		}
		seen[obj.Key] = obj.ETag
	}

	for key := range seen {
		if current[key] {
			continue
		}
		evt := model.ObjectEvent{
			Type:      model.ObjectRemoved,
			Bucket:    bucket,
			ObjectKey: key,
			ModTime:   time.Now().UTC(),
		}
		if err := h(ctx, evt); err != nil {
			continue
		}
		delete(seen, key)
	}
	return nil
}

func (s *FSStore) Close() error { return nil }

func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func contentTypeFor(key string) string {
	if ct := mime.TypeByExtension(filepath.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
