package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api"
	"github.com/cloudinary/cloudinary-go/v2/api/admin"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"golang.org/x/time/rate"
)

// cdnClient is the slice of the Cloudinary SDK the CDN backend calls.
type cdnClient interface {
	Upload(ctx context.Context, file any, params uploader.UploadParams) (*uploader.UploadResult, error)
	Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error)
	Assets(ctx context.Context, params admin.AssetsParams) (*admin.AssetsResult, error)
	URL(publicID, format string) (string, error)
}

type cloudinaryClient struct {
	cld *cloudinary.Cloudinary
}

func (c cloudinaryClient) Upload(ctx context.Context, file any, params uploader.UploadParams) (*uploader.UploadResult, error) {
	return c.cld.Upload.Upload(ctx, file, params)
}

func (c cloudinaryClient) Destroy(ctx context.Context, params uploader.DestroyParams) (*uploader.DestroyResult, error) {
	return c.cld.Upload.Destroy(ctx, params)
}

func (c cloudinaryClient) Assets(ctx context.Context, params admin.AssetsParams) (*admin.AssetsResult, error) {
	return c.cld.Admin.Assets(ctx, params)
}

// URL builds the delivery URL of an image without its upload version, so
// overwriting a public id keeps the same locator.
func (c cloudinaryClient) URL(publicID, format string) (string, error) {
	id := publicID
	if format != "" {
		id += "." + format
	}
	img, err := c.cld.Image(id)
	if err != nil {
		return "", err
	}
	return img.String()
}

// CDNConfig holds Cloudinary credentials.
type CDNConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	// RootFolder prefixes every folder, so one cloud can host several galleries.
	RootFolder string
	// AdminRPS caps Admin API calls per second; the Admin API is quota-limited.
	AdminRPS float64
}

// cdnPageSize is the Admin API maximum.
const cdnPageSize = 500

// CDN is the legacy CDN backend. Objects are addressed by folder and the
// vendor returns an opaque public id at upload time; deletes need that id,
// so callers must keep Object.ObjectID.
type CDN struct {
	client  cdnClient
	root    string
	limiter *rate.Limiter
}

// NewCDN builds a Cloudinary-backed CDN backend.
func NewCDN(cfg CDNConfig) (*CDN, error) {
	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("create cloudinary client: %w", err)
	}
	cld.Config.URL.Analytics = false
	return newCDN(cloudinaryClient{cld: cld}, cfg.RootFolder, cfg.AdminRPS), nil
}

func newCDN(client cdnClient, root string, rps float64) *CDN {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &CDN{
		client:  client,
		root:    strings.Trim(root, "/"),
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Kind implements Backend.
func (c *CDN) Kind() Kind { return KindCDN }

// Put uploads data with p (minus its extension) as the public id, which
// places it in the folder of p.
func (c *CDN) Put(ctx context.Context, p string, data []byte, _ string) (Object, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return Object{}, err
	}
	full := c.withRoot(clean)
	res, err := c.client.Upload(ctx, bytes.NewReader(data), uploader.UploadParams{
		PublicID:       strings.TrimSuffix(full, path.Ext(full)),
		Overwrite:      api.Bool(true),
		UniqueFilename: api.Bool(false),
	})
	if err != nil {
		return Object{}, fmt.Errorf("cdn upload %q: %w", clean, err)
	}
	if res.Error.Message != "" {
		return Object{}, fmt.Errorf("cdn upload %q: %s", clean, res.Error.Message)
	}
	if res.SecureURL == "" || res.PublicID == "" {
		return Object{}, ErrNoLocator
	}
	locator, err := c.client.URL(res.PublicID, res.Format)
	if err != nil {
		return Object{}, fmt.Errorf("cdn url %q: %w", clean, err)
	}
	return Object{
		Kind:      KindCDN,
		Path:      clean,
		Locator:   locator,
		ObjectID:  res.PublicID,
		CreatedAt: res.CreatedAt,
	}, nil
}

// Delete destroys the asset with the given public id.
func (c *CDN) Delete(ctx context.Context, publicID string) error {
	if publicID == "" {
		return ErrInvalidPath
	}
	res, err := c.client.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("cdn destroy %q: %w", publicID, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("cdn destroy %q: %s", publicID, res.Error.Message)
	}
	switch res.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("cdn destroy %q: unexpected result %q", publicID, res.Result)
	}
}

// PathFromLocator always fails: deletes on the CDN need the public id the
// upload returned, never a path recovered from a URL.
func (c *CDN) PathFromLocator(string) (string, bool) {
	return "", false
}

// List pages through the Admin API for assets whose public id starts with prefix.
// Returned paths are relative to the root folder and carry no extension.
func (c *CDN) List(ctx context.Context, prefix string) ([]Object, error) {
	var (
		out    []Object
		cursor string
	)
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		res, err := c.client.Assets(ctx, admin.AssetsParams{
			DeliveryType: string(api.Upload),
			Prefix:       c.withRoot(prefix),
			MaxResults:   cdnPageSize,
			NextCursor:   cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("cdn list %q: %w", prefix, err)
		}
		if res.Error.Message != "" {
			return nil, fmt.Errorf("cdn list %q: %s", prefix, res.Error.Message)
		}
		for _, a := range res.Assets {
			locator, err := c.client.URL(a.PublicID, a.Format)
			if err != nil {
				return nil, fmt.Errorf("cdn url %q: %w", a.PublicID, err)
			}
			out = append(out, Object{
				Kind:      KindCDN,
				Path:      c.withoutRoot(a.PublicID),
				Locator:   locator,
				ObjectID:  a.PublicID,
				CreatedAt: a.CreatedAt,
			})
		}
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

func (c *CDN) withRoot(p string) string {
	if c.root == "" {
		return p
	}
	return c.root + "/" + p
}

func (c *CDN) withoutRoot(p string) string {
	if c.root == "" {
		return p
	}
	return strings.TrimPrefix(p, c.root+"/")
}
