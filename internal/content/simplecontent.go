package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

// ContentScheme is the scheme of handles served by ContentResolver.
const ContentScheme = "content"

// Downloader fetches the bytes of a simple-content item by id.
type Downloader interface {
	DownloadContent(ctx context.Context, contentID uuid.UUID) (io.ReadCloser, error)
}

// ContentResolver resolves content://<uuid> handles through a simple-content
// service.
type ContentResolver struct {
	dl Downloader
}

// NewContentResolver wraps svc.
func NewContentResolver(svc simplecontent.Service) *ContentResolver {
	return &ContentResolver{dl: serviceDownloader{svc: svc}}
}

// NewDownloaderResolver wraps any Downloader.
func NewDownloaderResolver(dl Downloader) *ContentResolver {
	return &ContentResolver{dl: dl}
}

// Open implements Resolver.
func (r *ContentResolver) Open(ctx context.Context, h Handle) (io.ReadCloser, error) {
	id, err := ContentID(h)
	if err != nil {
		return nil, err
	}

	reader, err := r.dl.DownloadContent(ctx, id)
	if err != nil {
		return nil, classifyContentError(id, err)
	}
	return reader, nil
}

func classifyContentError(id uuid.UUID, err error) error {
	if errors.Is(err, simplecontent.ErrContentNotFound) || errors.Is(err, simplecontent.ErrObjectNotFound) {
		err = errors.Join(ErrNotFound, err)
	}
	return fmt.Errorf("download content %s: %w", id, err)
}

// ContentID extracts the content id from a content://<uuid> or content:<uuid>
// handle.
func ContentID(h Handle) (uuid.UUID, error) {
	if h.Scheme() != ContentScheme {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrUnsupportedHandle, h)
	}

	u, err := url.Parse(string(h))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrUnsupportedHandle, err)
	}
	raw := u.Host
	if raw == "" {
		raw = u.Opaque
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: parse content id %q: %v", ErrUnsupportedHandle, raw, err)
	}
	return id, nil
}

// ContentHandle builds the handle for a simple-content id.
func ContentHandle(id uuid.UUID) Handle {
	return Handle(ContentScheme + "://" + id.String())
}

// objectStore is the part of simplecontent.Service behind a content download.
type objectStore interface {
	GetObjectsByContentID(ctx context.Context, contentID uuid.UUID) ([]*simplecontent.Object, error)
	DownloadObject(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
}

type serviceDownloader struct {
	svc objectStore
}

// DownloadContent streams the newest live object of the content.
func (d serviceDownloader) DownloadContent(ctx context.Context, contentID uuid.UUID) (io.ReadCloser, error) {
	objects, err := d.svc.GetObjectsByContentID(ctx, contentID)
	if err != nil {
		return nil, err
	}

	var latest *simplecontent.Object
	for _, obj := range objects {
		if obj == nil || obj.DeletedAt != nil {
			continue
		}
		if latest == nil || obj.Version > latest.Version {
			latest = obj
		}
	}
	if latest == nil {
		return nil, simplecontent.ErrObjectNotFound
	}
	return d.svc.DownloadObject(ctx, latest.ID)
}
