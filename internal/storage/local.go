package storage

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

const (
	// dirMarkerName is the file that stands in for a zero-byte "folder/" key.
	dirMarkerName = ".ossgate-dir"
	uploadsDir    = ".uploads"
	metaDir       = ".meta"
)

// LocalGateway is a Gateway that keeps objects on the local filesystem
// under dataDir/bucket/key. Multipart uploads stage their parts under
// dataDir/.uploads/<uploadID> until they are completed or aborted. It serves
// development setups and tests that do not have an object store at hand.
type LocalGateway struct {
	dataDir string
	bucket  string
}

type localMeta struct {
	ContentType string            `json:"contentType,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type localUpload struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewLocalGateway creates a LocalGateway rooted at dataDir.
func NewLocalGateway(dataDir string, bucket string) (*LocalGateway, error) {
	if dataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}

	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	return &LocalGateway{dataDir: abs, bucket: bucket}, nil
}

func (g *LocalGateway) String() string {
	return fmt.Sprintf("file://%s", filepath.Join(g.dataDir, g.bucket))
}

func (g *LocalGateway) Bucket() string {
	return g.bucket
}

func (g *LocalGateway) EnsureBucket(ctx context.Context) error {
	return os.MkdirAll(g.bucketRoot(), 0o755)
}

// SetCORS is a no-op; files are never served directly from disk.
func (g *LocalGateway) SetCORS(ctx context.Context) error {
	return nil
}

func (g *LocalGateway) bucketRoot() string {
	return filepath.Join(g.dataDir, g.bucket)
}

// objectPath computes the filesystem path for key, rejecting keys that would
// escape the bucket directory.
func (g *LocalGateway) objectPath(root string, key string) (string, error) {
	if key == "" || len(key) > 1024 {
		return "", fmt.Errorf("invalid object key %q", key)
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == ".." || segment == dirMarkerName {
			return "", fmt.Errorf("invalid object key %q", key)
		}
	}

	p := filepath.Join(root, filepath.FromSlash(key))
	if p != root && !strings.HasPrefix(p, root+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return p, nil
}

func (g *LocalGateway) metaPath(key string) (string, error) {
	p, err := g.objectPath(filepath.Join(g.dataDir, metaDir, g.bucket), strings.TrimSuffix(key, "/"))
	if err != nil {
		return "", err
	}
	if strings.HasSuffix(key, "/") {
		return filepath.Join(p, dirMarkerName+".json"), nil
	}
	return p + ".json", nil
}

func (g *LocalGateway) uploadDir(uploadID string) (string, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return "", fmt.Errorf("%w: upload %q", ErrNotFound, uploadID)
	}
	return filepath.Join(g.dataDir, uploadsDir, uploadID), nil
}

func (g *LocalGateway) CreateMultipartUpload(ctx context.Context, key string) (string, error) {
	if _, err := g.objectPath(g.bucketRoot(), key); err != nil {
		return "", err
	}

	uploadID := uuid.NewString()
	dir := filepath.Join(g.dataDir, uploadsDir, uploadID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}

	data, err := json.Marshal(localUpload{Bucket: g.bucket, Key: key, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "upload.json"), data, 0o644); err != nil {
		return "", fmt.Errorf("write upload manifest: %w", err)
	}
	return uploadID, nil
}

func (g *LocalGateway) loadUpload(uploadID string, key string) (string, error) {
	dir, err := g.uploadDir(uploadID)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(filepath.Join(dir, "upload.json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: upload %q", ErrNotFound, uploadID)
		}
		return "", err
	}

	var upload localUpload
	if err := json.Unmarshal(data, &upload); err != nil {
		return "", fmt.Errorf("decode upload manifest: %w", err)
	}
	if upload.Key != key || upload.Bucket != g.bucket {
		return "", fmt.Errorf("upload %q belongs to %s/%s", uploadID, upload.Bucket, upload.Key)
	}
	return dir, nil
}

func partFileName(number int) string {
	return fmt.Sprintf("%05d", number)
}

func (g *LocalGateway) UploadPart(ctx context.Context, key string, uploadID string, number int, data []byte) (Part, error) {
	if number < 1 || number > MaxPartNumber {
		return Part{}, fmt.Errorf("invalid part number %d", number)
	}

	dir, err := g.loadUpload(uploadID, key)
	if err != nil {
		return Part{}, err
	}

	if err := atomic.WriteFile(filepath.Join(dir, partFileName(number)), bytes.NewReader(data)); err != nil {
		return Part{}, fmt.Errorf("write part %d: %w", number, err)
	}

	sum := md5.Sum(data)
	return Part{Number: number, ETag: createETag(hex.EncodeToString(sum[:]))}, nil
}

func (g *LocalGateway) CompleteMultipartUpload(ctx context.Context, key string, uploadID string, parts []Part) error {
	dir, err := g.loadUpload(uploadID, key)
	if err != nil {
		return err
	}

	objPath, err := g.objectPath(g.bucketRoot(), key)
	if err != nil {
		return err
	}

	if len(parts) == 0 {
		return errors.New("complete multipart upload: no parts")
	}

	tmp, err := os.CreateTemp(dir, "complete-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	hash := md5.New()
	last := 0
	for _, p := range parts {
		if p.Number <= last {
			_ = tmp.Close()
			return fmt.Errorf("complete multipart upload: part %d out of order", p.Number)
		}
		last = p.Number

		partHash := md5.New()
		if _, err := appendFile(io.MultiWriter(tmp, partHash), filepath.Join(dir, partFileName(p.Number))); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("complete multipart upload: part %d: %w", p.Number, err)
		}

		sum := partHash.Sum(nil)
		if etag := createETag(hex.EncodeToString(sum)); etag != p.ETag {
			_ = tmp.Close()
			return fmt.Errorf("complete multipart upload: part %d etag mismatch", p.Number)
		}
		hash.Write(sum)
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(objPath), 0o755); err != nil {
		return err
	}
	if err := moveFile(tmp.Name(), objPath); err != nil {
		return err
	}

	etag := createETag(hex.EncodeToString(hash.Sum(nil)) + "-" + strconv.Itoa(len(parts)))
	if err := g.writeMeta(key, localMeta{ContentType: "application/octet-stream", ETag: etag}); err != nil {
		return err
	}

	return os.RemoveAll(dir)
}

func (g *LocalGateway) AbortMultipartUpload(ctx context.Context, key string, uploadID string) error {
	dir, err := g.loadUpload(uploadID, key)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

func (g *LocalGateway) ListObjects(ctx context.Context, prefix string) ([]Object, error) {
	root := g.bucketRoot()
	var objects []Object

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return fs.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".tmp-") {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if d.Name() == dirMarkerName {
			key = strings.TrimSuffix(key, dirMarkerName)
		}
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		obj, err := g.stat(key, p)
		if err != nil {
			return err
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (g *LocalGateway) filePath(key string) (string, error) {
	if strings.HasSuffix(key, "/") {
		dir, err := g.objectPath(g.bucketRoot(), strings.TrimSuffix(key, "/"))
		if err != nil {
			return "", err
		}
		return filepath.Join(dir, dirMarkerName), nil
	}
	return g.objectPath(g.bucketRoot(), key)
}

func (g *LocalGateway) stat(key string, p string) (Object, error) {
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Object{}, err
	}
	if info.IsDir() {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	meta, err := g.readMeta(key)
	if err != nil {
		return Object{}, err
	}

	return Object{
		Key:          key,
		Size:         info.Size(),
		LastModified: info.ModTime().UTC(),
		ETag:         meta.ETag,
		ContentType:  meta.ContentType,
		Metadata:     meta.Metadata,
	}, nil
}

func (g *LocalGateway) HeadObject(ctx context.Context, key string) (Object, error) {
	p, err := g.filePath(key)
	if err != nil {
		return Object{}, err
	}
	return g.stat(key, p)
}

func (g *LocalGateway) GetObject(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	p, err := g.filePath(key)
	if err != nil {
		return nil, Object{}, err
	}

	obj, err := g.stat(key, p)
	if err != nil {
		return nil, Object{}, err
	}

	f, err := os.Open(p)
	if err != nil {
		return nil, Object{}, err
	}
	return f, obj, nil
}

func (g *LocalGateway) PutObject(ctx context.Context, key string, r io.Reader, size int64, opts PutOptions) error {
	p, err := g.filePath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}

	hash := md5.New()
	if err := writeObjectFile(p, io.TeeReader(r, hash)); err != nil {
		return err
	}

	return g.writeMeta(key, localMeta{
		ContentType: opts.ContentType,
		ETag:        createETag(hex.EncodeToString(hash.Sum(nil))),
		Metadata:    opts.Metadata,
	})
}

func (g *LocalGateway) DeleteObject(ctx context.Context, key string) error {
	p, err := g.filePath(key)
	if err != nil {
		return err
	}

	// S3 deletes are idempotent, missing keys are not an error.
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if mp, err := g.metaPath(key); err == nil {
		_ = os.Remove(mp)
	}

	g.pruneEmptyDirs(filepath.Dir(p))
	return nil
}

func (g *LocalGateway) DeleteObjects(ctx context.Context, keys []string) error {
	var errs []error
	for _, key := range keys {
		if err := g.DeleteObject(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// pruneEmptyDirs removes now-empty parent directories up to the bucket root
// so that deleted folders disappear from listings.
func (g *LocalGateway) pruneEmptyDirs(dir string) {
	root := g.bucketRoot()
	for dir != root && strings.HasPrefix(dir, root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func (g *LocalGateway) readMeta(key string) (localMeta, error) {
	var meta localMeta
	mp, err := g.metaPath(key)
	if err != nil {
		return meta, err
	}

	data, err := os.ReadFile(mp)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode metadata for %q: %w", key, err)
	}
	return meta, nil
}

func (g *LocalGateway) writeMeta(key string, meta localMeta) error {
	mp, err := g.metaPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(mp), 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return atomic.WriteFile(mp, bytes.NewReader(data))
}

// writeObjectFile streams r into a ".tmp-" file next to p and renames it
// into place. ListObjects skips that prefix, so a write in progress never
// shows up as an object.
func writeObjectFile(p string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// createETag formats a hash hex string as an ETag value.
func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}
