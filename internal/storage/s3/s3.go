// Package s3 implements an S3-compatible storage backend over MinIO.
//
// Unlike the filesystem backend, object storage has no rename primitive,
// so Commit is a copy-then-delete approximation: every staged object is
// copied to its public key, then the staged originals are removed. That
// is not atomic — a crash or failed copy partway through the first step
// can leave a partially visible folder, and a crash between the two
// steps leaves the staged objects behind — which is why the filesystem backend remains the
// backend of record and this one is documented as a known limitation.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/aliskhannn/image-processor/internal/storage"
)

// Storage realizes storage.Backend over a MinIO-compatible bucket.
type Storage struct {
	client     *minio.Client
	bucketName string
}

// New connects to the given MinIO-compatible endpoint, creating bucket if
// it does not already exist.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 storage: initializing client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("s3 storage: checking bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("s3 storage: creating bucket: %w", err)
		}
	}

	return &Storage{client: client, bucketName: bucket}, nil
}

const stagingPrefix = ".staging/"

// Walk implements storage.Backend by listing every object whose key has
// publicName as a path prefix and reassembling them into a tree.
func (s *Storage) Walk(ctx context.Context, publicName string) ([]storage.FolderEntry, bool, error) {
	prefix := publicName + "/"

	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, false, fmt.Errorf("s3 storage: listing %s: %w", publicName, obj.Err)
		}
		keys = append(keys, strings.TrimPrefix(obj.Key, prefix))
	}

	if len(keys) == 0 {
		return nil, false, nil
	}

	return buildTree(keys), true, nil
}

// buildTree turns a flat list of slash-separated relative paths into a
// FolderEntry tree.
func buildTree(relPaths []string) []storage.FolderEntry {
	type node struct {
		children map[string]*node
		isFile   bool
	}
	root := &node{children: map[string]*node{}}

	for _, p := range relPaths {
		parts := strings.Split(p, "/")
		cur := root
		for i, part := range parts {
			next, ok := cur.children[part]
			if !ok {
				next = &node{children: map[string]*node{}}
				cur.children[part] = next
			}
			if i == len(parts)-1 {
				next.isFile = true
			}
			cur = next
		}
	}

	var toEntries func(n *node) []storage.FolderEntry
	toEntries = func(n *node) []storage.FolderEntry {
		entries := make([]storage.FolderEntry, 0, len(n.children))
		for name, child := range n.children {
			e := storage.FolderEntry{Name: name}
			if !child.isFile {
				e.Children = toEntries(child)
			}
			entries = append(entries, e)
		}
		return entries
	}

	return toEntries(root)
}

// CreateStaged implements storage.Backend, staging objects under a
// UUID-suffixed prefix outside the public namespace.
func (s *Storage) CreateStaged(_ context.Context, publicName string) (storage.StagedHandle, error) {
	return &stagedHandle{
		client:     s.client,
		bucketName: s.bucketName,
		prefix:     stagingPrefix + publicName + "-" + uuid.NewString() + "/",
	}, nil
}

// Commit implements storage.Backend via copy-then-delete.
func (s *Storage) Commit(ctx context.Context, handle storage.StagedHandle, publicName string) error {
	h, ok := handle.(*stagedHandle)
	if !ok {
		return fmt.Errorf("s3 storage: commit called with a handle from a different backend")
	}

	var staged []string
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    h.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("s3 storage: listing staged objects: %w", obj.Err)
		}
		staged = append(staged, obj.Key)
	}

	for _, key := range staged {
		relative := strings.TrimPrefix(key, h.prefix)
		destKey := filepath.ToSlash(filepath.Join(publicName, relative))

		_, err := s.client.CopyObject(ctx,
			minio.CopyDestOptions{Bucket: s.bucketName, Object: destKey},
			minio.CopySrcOptions{Bucket: s.bucketName, Object: key},
		)
		if err != nil {
			return fmt.Errorf("s3 storage: copying %s to %s: %w", key, destKey, err)
		}
	}

	for _, key := range staged {
		if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("s3 storage: removing staged object %s: %w", key, err)
		}
	}

	return nil
}

type stagedHandle struct {
	client     *minio.Client
	bucketName string
	prefix     string
}

func (h *stagedHandle) CreateFile(ctx context.Context, relativeName string, data []byte) error {
	key := h.prefix + relativeName
	_, err := h.client.PutObject(ctx, h.bucketName, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return fmt.Errorf("s3 storage: writing %s: %w", relativeName, err)
	}
	return nil
}

// CreateSubfolder is a no-op: object storage has no real directories, and
// any key written under the subfolder's prefix makes it implicitly exist
// for Walk's purposes.
func (h *stagedHandle) CreateSubfolder(_ context.Context, _ string) error {
	return nil
}

func (h *stagedHandle) Discard(ctx context.Context) error {
	for obj := range h.client.ListObjects(ctx, h.bucketName, minio.ListObjectsOptions{
		Prefix:    h.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return fmt.Errorf("s3 storage: listing staged objects to discard: %w", obj.Err)
		}
		if err := h.client.RemoveObject(ctx, h.bucketName, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("s3 storage: discarding %s: %w", obj.Key, err)
		}
	}
	return nil
}
