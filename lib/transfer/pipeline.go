// Package transfer orchestrates the pull, retag, push pipeline for one image
// conversion request.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/x007007007/docker-image-trans/lib/broadcast"
	"github.com/x007007007/docker-image-trans/lib/engine"
	"github.com/x007007007/docker-image-trans/lib/logger"
	"github.com/x007007007/docker-image-trans/lib/otel"
	"github.com/x007007007/docker-image-trans/lib/reference"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Engine is the subset of the engine facade the pipeline drives.
type Engine interface {
	Pull(ctx context.Context, ref string) (engine.Image, error)
	Tag(ctx context.Context, source, target string) error
	Push(ctx context.Context, ref string, onStatus func(string)) error
}

// Publisher receives progress events for fan-out to connected clients.
type Publisher interface {
	Publish(broadcast.Event)
}

// Request is one conversion submission. TargetDomain falls back to the
// configured default when empty.
type Request struct {
	RawRef       string
	TargetDomain string
}

// Outcome is the terminal record of one pipeline run. Nothing is persisted
// beyond it.
type Outcome struct {
	Success   bool
	SourceRef string
	TargetRef string
}

// Pipeline runs pull -> retag -> push for one request at a time, reporting
// every stage transition through the publisher. Runs are independent: there
// is no dedup or serialization across concurrent requests for the same
// reference; the daemon serializes per-repository tag writes itself.
type Pipeline struct {
	engine        Engine
	pub           Publisher
	defaultDomain string
	metrics       *otel.TransferMetrics
}

// New creates a pipeline. Metrics may be nil.
func New(eng Engine, pub Publisher, defaultDomain string, metrics *otel.TransferMetrics) *Pipeline {
	return &Pipeline{
		engine:        eng,
		pub:           pub,
		defaultDomain: defaultDomain,
		metrics:       metrics,
	}
}

// Run executes the full pipeline for one request. The first failing stage
// short-circuits the run; the error text is published as a progress message
// and the outcome marks the run failed. A panic anywhere in a stage is
// converted to the same failed outcome, so one bad run never takes down the
// process or the broadcast loop.
func (p *Pipeline) Run(ctx context.Context, req Request) (outcome Outcome) {
	log := logger.FromContext(ctx)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "transfer panicked", "ref", req.RawRef, "panic", r)
			p.notify(fmt.Sprintf("transfer aborted: %v", r), 0)
			outcome = Outcome{Success: false}
		}
		p.record(ctx, time.Since(start), outcome.Success)
	}()

	domain := req.TargetDomain
	if domain == "" {
		domain = p.defaultDomain
	}

	ref, err := reference.Parse(req.RawRef)
	if err != nil {
		log.WarnContext(ctx, "reference rejected", "ref", req.RawRef, "error", err)
		p.notify(fmt.Sprintf("invalid image reference: %v", err), 0)
		return Outcome{Success: false}
	}

	src := ref.SourceString()
	tgt := ref.TargetString(domain)
	log.InfoContext(ctx, "transfer started", "source", src, "target", tgt)

	p.notify(fmt.Sprintf("starting transfer: %s -> %s", src, tgt), 10)

	p.notify("pulling image from source registry", 20)
	img, err := p.engine.Pull(ctx, src)
	if err != nil {
		return p.fail(ctx, src, tgt, "failed to pull image", err)
	}
	p.notify(fmt.Sprintf("image pulled: %s", img.ShortID()), 40)

	p.notify(fmt.Sprintf("retagging image for %s", domain), 60)
	if err := p.engine.Tag(ctx, img.ID, tgt); err != nil {
		return p.fail(ctx, src, tgt, "failed to retag image", err)
	}
	p.notify("image retagged", 80)

	p.notify("pushing image to target registry", 90)
	err = p.engine.Push(ctx, tgt, func(status string) {
		p.notify(fmt.Sprintf("push: %s", status), 95)
		if p.metrics != nil {
			p.metrics.PushStatusLines.Add(ctx, 1)
		}
	})
	if err != nil {
		return p.fail(ctx, src, tgt, "failed to push image", err)
	}

	p.notify(fmt.Sprintf("transfer complete: pushed to %s", tgt), 100)
	log.InfoContext(ctx, "transfer complete", "source", src, "target", tgt, "duration_ms", time.Since(start).Milliseconds())
	return Outcome{Success: true, SourceRef: src, TargetRef: tgt}
}

func (p *Pipeline) notify(message string, progress int) {
	p.pub.Publish(broadcast.NewEvent(message, progress))
}

func (p *Pipeline) fail(ctx context.Context, src, tgt, msg string, err error) Outcome {
	log := logger.FromContext(ctx)
	log.ErrorContext(ctx, msg, "source", src, "target", tgt, "error", err)
	p.notify(fmt.Sprintf("%s: %v", msg, err), 0)

	if p.metrics != nil {
		var engErr *engine.EngineError
		if errors.As(err, &engErr) {
			p.metrics.EngineErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", engErr.Op)))
		}
	}
	return Outcome{Success: false, SourceRef: src, TargetRef: tgt}
}

func (p *Pipeline) record(ctx context.Context, elapsed time.Duration, success bool) {
	if p.metrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	p.metrics.TransfersTotal.Add(ctx, 1, attrs)
	p.metrics.TransferDuration.Record(ctx, elapsed.Seconds(), attrs)
}
