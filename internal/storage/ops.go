package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"ossgate/internal/compress"
	"ossgate/pkg/pathutil"

	"github.com/natefinch/atomic"
)

const (
	metaCodec   = "ossgate-codec"
	metaRawSize = "ossgate-raw-size"
)

// ErrInvalidPrefix is returned by DeleteFolder for a prefix that would
// select the whole bucket.
var ErrInvalidPrefix = errors.New("invalid folder prefix")

// Ops bundles the single-shot operations that sit directly on top of a
// Gateway: puts, gets, listings and folder removal. Objects written through
// Ops are compressed with codec when one is configured and transparently
// decompressed on the way out.
type Ops struct {
	gw      Gateway
	locator *Locator
	codec   compress.Codec
}

// NewOps wraps gw. codec may be nil.
func NewOps(gw Gateway, locator *Locator, codec compress.Codec) *Ops {
	return &Ops{gw: gw, locator: locator, codec: codec}
}

func (o *Ops) Gateway() Gateway {
	return o.gw
}

func (o *Ops) Locator() *Locator {
	return o.locator
}

// PutObject stores r under the key built from dir and filename.
func (o *Ops) PutObject(ctx context.Context, dir string, filename string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	if filename == "" {
		return ObjectInfo{}, errors.New("filename must not be empty")
	}
	return o.PutObjectKey(ctx, pathutil.Join(dir, filename), r, size, contentType)
}

// PutObjectKey stores r under key as given.
func (o *Ops) PutObjectKey(ctx context.Context, key string, r io.Reader, size int64, contentType string) (ObjectInfo, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return ObjectInfo{}, errors.New("object key must not be empty")
	}
	if contentType == "" {
		contentType = contentTypeFor(key)
	}

	opts := PutOptions{ContentType: contentType}
	if o.codec != nil && !strings.HasSuffix(key, "/") {
		raw, err := io.ReadAll(r)
		if err != nil {
			return ObjectInfo{}, fmt.Errorf("read body: %w", err)
		}

		packed, err := compress.Encode(o.codec, raw)
		if err != nil {
			return ObjectInfo{}, err
		}

		opts.Metadata = map[string]string{
			metaCodec:   o.codec.Name(),
			metaRawSize: strconv.Itoa(len(raw)),
		}
		r, size = bytes.NewReader(packed), int64(len(packed))
	}

	if err := o.gw.PutObject(ctx, key, r, size, opts); err != nil {
		return ObjectInfo{}, fmt.Errorf("put %q: %w", key, err)
	}

	obj, err := o.gw.HeadObject(ctx, key)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("head %q: %w", key, err)
	}
	return o.locator.Info(rawObject(obj)), nil
}

// GetObject opens key for reading. The returned Object reports the
// uncompressed size.
func (o *Ops) GetObject(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	rc, obj, err := o.gw.GetObject(ctx, key)
	if err != nil {
		return nil, Object{}, err
	}

	name, ok := metadataValue(obj.Metadata, metaCodec)
	if !ok {
		return rc, obj, nil
	}
	defer rc.Close()

	codec, err := compress.Lookup(name)
	if err != nil {
		return nil, Object{}, err
	}
	if codec == nil {
		return nil, Object{}, fmt.Errorf("object %q has empty codec metadata", key)
	}

	obj = rawObject(obj)
	packed, err := io.ReadAll(rc)
	if err != nil {
		return nil, Object{}, fmt.Errorf("read %q: %w", key, err)
	}

	raw, err := compress.Decode(codec, packed, int(obj.Size))
	if err != nil {
		return nil, Object{}, fmt.Errorf("decode %q: %w", key, err)
	}
	return io.NopCloser(bytes.NewReader(raw)), obj, nil
}

// Head looks up key, reporting the uncompressed size for codec objects.
func (o *Ops) Head(ctx context.Context, key string) (Object, error) {
	obj, err := o.gw.HeadObject(ctx, key)
	if err != nil {
		return Object{}, err
	}
	return rawObject(obj), nil
}

// Stat returns the descriptor of key, or nil when it does not exist.
func (o *Ops) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	obj, err := o.gw.HeadObject(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	info := o.locator.Info(rawObject(obj))
	return &info, nil
}

// ListRaw lists every object under the normalized prefix.
func (o *Ops) ListRaw(ctx context.Context, prefix string) ([]Object, error) {
	objects, err := o.gw.ListObjects(ctx, pathutil.Normalize(prefix))
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return objects, nil
}

// ListObjects lists the file objects under prefix. Folder markers are
// skipped.
func (o *Ops) ListObjects(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	objects, err := o.ListRaw(ctx, prefix)
	if err != nil {
		return nil, err
	}

	infos := make([]ObjectInfo, 0, len(objects))
	for _, obj := range objects {
		if obj.IsDirMarker() {
			continue
		}
		infos = append(infos, o.locator.Info(rawObject(obj)))
	}
	return infos, nil
}

func (o *Ops) DeleteObject(ctx context.Context, key string) error {
	if err := o.gw.DeleteObject(ctx, key); err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}

// DeleteFolder removes every object under path and returns how many keys
// were deleted.
func (o *Ops) DeleteFolder(ctx context.Context, path string) (int, error) {
	prefix := pathutil.Normalize(path)
	if prefix == "" {
		return 0, ErrInvalidPrefix
	}

	objects, err := o.gw.ListObjects(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %q: %w", prefix, err)
	}
	if len(objects) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(objects))
	for _, obj := range objects {
		keys = append(keys, obj.Key)
	}

	if err := o.gw.DeleteObjects(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete folder %q: %w", prefix, err)
	}

	slog.Debug("Deleted folder", "prefix", prefix, "objects", len(keys))
	return len(keys), nil
}

// UploadDir walks localDir and puts each regular file below destPrefix,
// preserving the relative layout.
func (o *Ops) UploadDir(ctx context.Context, localDir string, destPrefix string) ([]ObjectInfo, error) {
	prefix := pathutil.Normalize(destPrefix)

	var uploaded []ObjectInfo
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()

		obj, err := o.PutObjectKey(ctx, prefix+filepath.ToSlash(rel), f, info.Size(), "")
		if err != nil {
			return err
		}

		slog.Info("Uploaded file", "path", p, "key", obj.Key, "size", obj.Size)
		uploaded = append(uploaded, obj)
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("upload dir %q: %w", localDir, err)
	}
	return uploaded, nil
}

// DownloadFile writes the object at key to localPath, creating parent
// directories as needed.
func (o *Ops) DownloadFile(ctx context.Context, key string, localPath string) (int64, error) {
	rc, obj, err := o.GetObject(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", key, err)
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return 0, err
	}

	if err := atomic.WriteFile(localPath, rc); err != nil {
		return 0, fmt.Errorf("write %q: %w", localPath, err)
	}
	return obj.Size, nil
}

// DownloadFolder mirrors every object under path into localDir, keeping the
// layout relative to the folder. Folder markers become empty directories.
func (o *Ops) DownloadFolder(ctx context.Context, path string, localDir string) (int, error) {
	prefix := pathutil.Normalize(path)

	objects, err := o.ListRaw(ctx, prefix)
	if err != nil {
		return 0, err
	}

	root, err := filepath.Abs(localDir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, prefix)
		if rel == "" {
			continue
		}

		dest := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(dest, root+string(filepath.Separator)) {
			slog.Warn("Skipping key outside the target directory", "key", obj.Key)
			continue
		}

		if obj.IsDirMarker() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return n, err
			}
			continue
		}

		size, err := o.DownloadFile(ctx, obj.Key, dest)
		if err != nil {
			return n, err
		}

		slog.Info("Downloaded file", "key", obj.Key, "path", dest, "size", size)
		n++
	}
	return n, nil
}

// rawObject reports the uncompressed size of obj when it was stored through
// a codec.
func rawObject(obj Object) Object {
	if v, ok := metadataValue(obj.Metadata, metaRawSize); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			obj.Size = n
		}
	}
	return obj
}

func contentTypeFor(key string) string {
	if ext, ok := pathutil.Extension(key); ok {
		if ct := mime.TypeByExtension("." + ext); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}
