package fileio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

var (
	// ErrExists is returned by WriteOnce when the location already holds an object.
	ErrExists = errors.New("object already exists")
	// ErrNotExist is returned by Read when the location holds no object.
	ErrNotExist = errors.New("object does not exist")
)

// IO reads and writes metadata objects by location.
type IO interface {
	Read(ctx context.Context, location string) ([]byte, error)
	WriteOnce(ctx context.Context, location string, data []byte) error
}

// S3Config contains S3 authentication configuration
type S3Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string // Optional: custom S3-compatible endpoint
}

// Config configures a Router.
type Config struct {
	S3 S3Config
}

// urlScheme represents the scheme of a URL
type urlScheme string

const (
	schemeFile  urlScheme = "file"
	schemeS3    urlScheme = "s3"
	schemeMem   urlScheme = "mem"
	schemeHTTP  urlScheme = "http"
	schemeHTTPS urlScheme = "https"
	schemeLocal urlScheme = "local" // no scheme, local path
)

// detectScheme detects the URL scheme from a path string
func detectScheme(path string) urlScheme {
	lowerPath := strings.ToLower(path)
	switch {
	case strings.HasPrefix(lowerPath, "s3://"):
		return schemeS3
	case strings.HasPrefix(lowerPath, "mem://"):
		return schemeMem
	case strings.HasPrefix(lowerPath, "https://"):
		return schemeHTTPS
	case strings.HasPrefix(lowerPath, "http://"):
		return schemeHTTP
	case strings.HasPrefix(lowerPath, "file://"):
		return schemeFile
	default:
		return schemeLocal
	}
}

// Router is an IO that dispatches on the location scheme. The S3 client is
// created on first use.
type Router struct {
	cfg  Config
	mem  *memStore
	http *http.Client

	mu       sync.Mutex
	s3Client *s3.Client
}

func New(cfg Config) *Router {
	return &Router{
		cfg: cfg,
		mem: newMemStore(),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Properties are the client settings handed to engines that read the
// catalog's tables.
func (r *Router) Properties() map[string]string {
	props := map[string]string{}
	if r.cfg.S3.Endpoint != "" {
		props["s3.endpoint"] = r.cfg.S3.Endpoint
		props["s3.path-style-access"] = "true"
	}
	if r.cfg.S3.Region != "" {
		props["s3.region"] = r.cfg.S3.Region
	}
	return props
}

func (r *Router) Read(ctx context.Context, location string) ([]byte, error) {
	switch scheme := detectScheme(location); scheme {
	case schemeLocal, schemeFile:
		return readLocal(localPath(location, scheme))
	case schemeMem:
		return r.mem.read(strings.TrimPrefix(location, "mem://"))
	case schemeHTTP, schemeHTTPS:
		return r.readHTTP(ctx, location)
	case schemeS3:
		client, err := r.client(ctx)
		if err != nil {
			return nil, err
		}
		return readS3(ctx, client, location)
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s", location)
	}
}

func (r *Router) WriteOnce(ctx context.Context, location string, data []byte) error {
	switch scheme := detectScheme(location); scheme {
	case schemeLocal, schemeFile:
		return writeLocal(localPath(location, scheme), data)
	case schemeMem:
		return r.mem.writeOnce(strings.TrimPrefix(location, "mem://"), data)
	case schemeHTTP, schemeHTTPS:
		return fmt.Errorf("HTTP/HTTPS does not support writing")
	case schemeS3:
		client, err := r.client(ctx)
		if err != nil {
			return err
		}
		return writeS3(ctx, client, location, data)
	default:
		return fmt.Errorf("unsupported URL scheme: %s", location)
	}
}

func (r *Router) client(ctx context.Context) (*s3.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.s3Client != nil {
		return r.s3Client, nil
	}
	client, err := newS3Client(ctx, r.cfg.S3)
	if err != nil {
		return nil, err
	}
	r.s3Client = client
	return client, nil
}

func (r *Router) readHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotExist, url)
	default:
		return nil, fmt.Errorf("HTTP request returned status %d", resp.StatusCode)
	}
}
