// Package pictures downloads product images into a file store under
// deterministic, content-addressed paths.
package pictures

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
)

const defaultExt = ".jpg"

// Picture links a product to one stored image.
type Picture struct {
	ProductKey string `json:"product_key" bson:"product_key"`
	ImageURL   string `json:"image_url" bson:"image_url"`
	Path       string `json:"path" bson:"path"`
}

// Downloader fetches images and writes them under
// <root>/<uuid5(productKey)>/<uuid5(content)><ext>. It is safe for
// concurrent use; each stored path is reported once per Downloader.
type Downloader struct {
	fetcher crawler.Fetcher
	store   crawler.FileStore
	root    string
	logger  *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// New builds a Downloader rooted at root, normally the source id.
func New(fetcher crawler.Fetcher, store crawler.FileStore, root string, logger *zap.Logger) *Downloader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fetcher: fetcher,
		store:   store,
		root:    root,
		logger:  logger,
		seen:    make(map[string]struct{}),
	}
}

// Download stores one image. ok is false when the URL is skipped: not
// http(s), a non-200 response, or a path already stored by this Downloader.
func (d *Downloader) Download(ctx context.Context, productKey, imageURL string) (Picture, bool, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return Picture{}, false, nil
	}

	payload, err := d.fetcher.Fetch(ctx, imageURL, crawler.FetchOptions{RaiseOnStatus: true, Quiet: true})
	if err != nil {
		var status *crawler.HTTPStatusError
		if errors.As(err, &status) {
			return Picture{}, false, nil
		}
		return Picture{}, false, err
	}
	if payload.StatusCode != 200 {
		return Picture{}, false, nil
	}

	dir := path.Join(d.root, uuid.NameURL(productKey))
	name := uuid.NameURL(string(payload.Body)) + extension(u.Path)
	stored, err := d.store.WriteFile(ctx, name, dir, payload.Body)
	if err != nil {
		return Picture{}, false, err
	}
	if !d.markNew(stored) {
		return Picture{}, false, nil
	}
	return Picture{ProductKey: productKey, ImageURL: imageURL, Path: stored}, true, nil
}

// DownloadAll stores every image of a product. Per-image failures are
// logged and skipped.
func (d *Downloader) DownloadAll(ctx context.Context, productKey string, imageURLs []string) []Picture {
	var out []Picture
	for _, raw := range imageURLs {
		if raw == "" {
			continue
		}
		pic, ok, err := d.Download(ctx, productKey, raw)
		if err != nil {
			d.logger.Warn("picture download failed",
				zap.String("product", productKey),
				zap.String("url", raw),
				zap.Error(err),
			)
			continue
		}
		if ok {
			out = append(out, pic)
		}
	}
	return out
}

func (d *Downloader) markNew(stored string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.seen[stored]; dup {
		return false
	}
	d.seen[stored] = struct{}{}
	return true
}

func extension(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 6 {
		return defaultExt
	}
	return ext
}
