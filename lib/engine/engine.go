// Package engine is the facade over the docker daemon client. Every
// operation acquires a fresh client handle, uses it for one call, and closes
// it before returning, so no connection outlives the call that needed it.
package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	dockerref "github.com/distribution/reference"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/api/types/system"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/samber/lo"
)

// dockerAPI is the subset of the docker client the facade depends on.
// Narrowed so tests can substitute a fake without a running daemon.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	Info(ctx context.Context) (system.Info, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, refStr string, options image.PushOptions) (io.ReadCloser, error)
	ImageList(ctx context.Context, options image.ListOptions) ([]image.Summary, error)
	ImageRemove(ctx context.Context, imageID string, options image.RemoveOptions) ([]image.DeleteResponse, error)
	Close() error
}

// Image identifies a locally present image after a successful pull.
type Image struct {
	ID  string
	Ref string
}

// ShortID returns the truncated image ID used in progress messages.
func (i Image) ShortID() string {
	s := strings.TrimPrefix(i.ID, "sha256:")
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

// Summary is one local image as reported by ListImages.
type Summary struct {
	ID        string   `json:"id"`
	Tags      []string `json:"tags"`
	SizeBytes int64    `json:"size_bytes"`
}

// Result pairs a value with the error from a pool-dispatched call.
type Result[T any] struct {
	Value T
	Err   error
}

// Client is the engine facade. All operations run on a fixed-size worker
// pool; the async variants return a channel so callers can await completion
// elsewhere.
type Client struct {
	workers *pool
	auth    string
	newAPI  func() (dockerAPI, error)
}

// New creates a facade backed by the environment-configured docker daemon
// (DOCKER_HOST et al.) and the given worker pool size.
func New(workers int) *Client {
	return &Client{
		workers: newPool(workers),
		newAPI: func() (dockerAPI, error) {
			return client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		},
	}
}

// WithRegistryAuth sets the credentials presented to the target registry on
// push. Anonymous when never called.
func (c *Client) WithRegistryAuth(username, password, serverAddress string) *Client {
	c.auth = encodeAuth(registry.AuthConfig{
		Username:      username,
		Password:      password,
		ServerAddress: serverAddress,
	})
	return c
}

func encodeAuth(auth registry.AuthConfig) string {
	buf, err := json.Marshal(auth)
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// registryAuth returns the configured push credential, or an encoded empty
// credential: the daemon rejects push requests with no auth header at all.
func (c *Client) registryAuth() string {
	if c.auth != "" {
		return c.auth
	}
	return encodeAuth(registry.AuthConfig{})
}

// withClient acquires a worker slot and a fresh daemon client, runs fn, and
// closes the client on every exit path. Failures are wrapped as *EngineError
// for the given operation.
func (c *Client) withClient(ctx context.Context, op string, fn func(api dockerAPI) error) error {
	err := c.workers.run(ctx, func() error {
		api, err := c.newAPI()
		if err != nil {
			return fmt.Errorf("connect to engine: %w", err)
		}
		defer api.Close()
		return fn(api)
	})
	if err != nil {
		return opErr(op, err)
	}
	return nil
}

// validateRef rejects references the daemon could not address before we open
// a connection for them. The original string is still what gets sent.
func validateRef(ref string) error {
	if _, err := dockerref.ParseNormalizedNamed(ref); err != nil {
		return fmt.Errorf("invalid reference %q: %w", ref, err)
	}
	return nil
}

// drainStream consumes a daemon status stream to completion. The stream is
// lazy, finite, and non-restartable; a record carrying an error aborts the
// operation immediately and the remainder is abandoned.
func drainStream(r io.Reader, onStatus func(string)) error {
	dec := json.NewDecoder(r)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if msg.Error != nil {
			return msg.Error
		}
		if onStatus != nil && msg.Status != "" {
			onStatus(msg.Status)
		}
	}
}

// Ping checks daemon connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.withClient(ctx, OpPing, func(api dockerAPI) error {
		_, err := api.Ping(ctx)
		return err
	})
}

// Diagnose turns connectivity state into the human-readable line reported by
// the health endpoint.
func (c *Client) Diagnose(ctx context.Context) string {
	if err := c.Ping(ctx); err != nil {
		return err.Error()
	}
	return "docker engine reachable"
}

// Info returns daemon metadata.
func (c *Client) Info(ctx context.Context) (system.Info, error) {
	var info system.Info
	err := c.withClient(ctx, OpInfo, func(api dockerAPI) error {
		var err error
		info, err = api.Info(ctx)
		return err
	})
	return info, err
}

// Pull fetches ref from its registry and returns the resulting local image.
// The daemon reports a pull as complete only once its status stream is
// drained, so errors surfaced mid-stream fail the pull.
func (c *Client) Pull(ctx context.Context, ref string) (Image, error) {
	var img Image
	err := c.withClient(ctx, OpPull, func(api dockerAPI) error {
		if err := validateRef(ref); err != nil {
			return err
		}
		rc, err := api.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return err
		}
		defer rc.Close()
		if err := drainStream(rc, nil); err != nil {
			return err
		}
		inspect, err := api.ImageInspect(ctx, ref)
		if err != nil {
			return err
		}
		img = Image{ID: inspect.ID, Ref: ref}
		return nil
	})
	return img, err
}

// Tag applies target as an additional name for source. Source may be a
// reference or an image ID, so only the target is validated.
func (c *Client) Tag(ctx context.Context, source, target string) error {
	return c.withClient(ctx, OpTag, func(api dockerAPI) error {
		if err := validateRef(target); err != nil {
			return err
		}
		return api.ImageTag(ctx, source, target)
	})
}

// Push uploads ref to its registry, invoking onStatus for every status line
// the daemon streams back. The first record carrying an error fails the push.
func (c *Client) Push(ctx context.Context, ref string, onStatus func(string)) error {
	return c.withClient(ctx, OpPush, func(api dockerAPI) error {
		if err := validateRef(ref); err != nil {
			return err
		}
		rc, err := api.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: c.registryAuth()})
		if err != nil {
			return err
		}
		defer rc.Close()
		return drainStream(rc, onStatus)
	})
}

// ListImages returns local images with their non-dangling tags.
func (c *Client) ListImages(ctx context.Context) ([]Summary, error) {
	var out []Summary
	err := c.withClient(ctx, OpList, func(api dockerAPI) error {
		summaries, err := api.ImageList(ctx, image.ListOptions{})
		if err != nil {
			return err
		}
		out = lo.Map(summaries, func(s image.Summary, _ int) Summary {
			return Summary{
				ID:        s.ID,
				SizeBytes: s.Size,
				Tags: lo.Filter(s.RepoTags, func(t string, _ int) bool {
					return t != "<none>:<none>"
				}),
			}
		})
		return nil
	})
	return out, err
}

// RemoveImage deletes a local image by reference or ID.
func (c *Client) RemoveImage(ctx context.Context, ref string, force bool) error {
	return c.withClient(ctx, OpRemove, func(api dockerAPI) error {
		_, err := api.ImageRemove(ctx, ref, image.RemoveOptions{Force: force})
		return err
	})
}

// Async variants dispatch the blocking implementation onto the worker pool
// and hand back a single-use channel carrying the outcome.

func (c *Client) PingAsync(ctx context.Context) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.Ping(ctx) }()
	return ch
}

func (c *Client) InfoAsync(ctx context.Context) <-chan Result[system.Info] {
	ch := make(chan Result[system.Info], 1)
	go func() {
		info, err := c.Info(ctx)
		ch <- Result[system.Info]{Value: info, Err: err}
	}()
	return ch
}

func (c *Client) PullAsync(ctx context.Context, ref string) <-chan Result[Image] {
	ch := make(chan Result[Image], 1)
	go func() {
		img, err := c.Pull(ctx, ref)
		ch <- Result[Image]{Value: img, Err: err}
	}()
	return ch
}

func (c *Client) TagAsync(ctx context.Context, source, target string) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.Tag(ctx, source, target) }()
	return ch
}

func (c *Client) PushAsync(ctx context.Context, ref string, onStatus func(string)) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.Push(ctx, ref, onStatus) }()
	return ch
}

func (c *Client) ListImagesAsync(ctx context.Context) <-chan Result[[]Summary] {
	ch := make(chan Result[[]Summary], 1)
	go func() {
		images, err := c.ListImages(ctx)
		ch <- Result[[]Summary]{Value: images, Err: err}
	}()
	return ch
}

func (c *Client) RemoveImageAsync(ctx context.Context, ref string, force bool) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- c.RemoveImage(ctx, ref, force) }()
	return ch
}
