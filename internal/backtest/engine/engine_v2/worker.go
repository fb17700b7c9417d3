package engine

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	engine_v1 "github.com/rxtech-lab/argo-portfolio/internal/backtest/engine/engine_v1"
	"github.com/rxtech-lab/argo-portfolio/internal/logger"
	"github.com/rxtech-lab/argo-portfolio/internal/types"
	"github.com/rxtech-lab/argo-portfolio/pkg/errors"
	"go.uber.org/zap"
)

// priceRequest asks a worker to price one signal against one bar. The reply
// channel is buffered so a worker can answer even after the requester gave
// up waiting.
type priceRequest struct {
	ID       string
	Signal   types.Signal
	Bar      types.MarketBar
	Position optional.Option[types.Position]
	Cash     float64

	reply chan priceResponse
}

type priceResponse struct {
	ID   string
	Fill engine_v1.Fill
	Err  error
}

// fillPricer is the slice of ExecutionPricer the pool needs.
type fillPricer interface {
	Price(signal types.Signal, bar types.MarketBar, position optional.Option[types.Position], cash float64) (engine_v1.Fill, error)
}

type pricingWorker struct {
	requests chan priceRequest
}

func (w *pricingWorker) loop(pricer fillPricer) {
	for request := range w.requests {
		fill, err := pricer.Price(request.Signal, request.Bar, request.Position, request.Cash)

		request.reply <- priceResponse{ID: request.ID, Fill: fill, Err: err}
	}
}

// workerPool fans execution pricing out over a fixed set of workers, each
// with its own request channel. Requests are assigned to a uniformly random
// worker and correlated with the response by id.
type workerPool struct {
	pricer  fillPricer
	workers []*pricingWorker
	timeout time.Duration
	log     *logger.Logger

	mu  sync.Mutex
	rng *rand.Rand
	wg  sync.WaitGroup

	closeOnce sync.Once
}

func newWorkerPool(pricer fillPricer, count int, timeout time.Duration, log *logger.Logger) *workerPool {
	if count < 1 {
		count = 1
	}

	pool := &workerPool{
		pricer:  pricer,
		workers: make([]*pricingWorker, count),
		timeout: timeout,
		log:     log,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	for i := range pool.workers {
		worker := &pricingWorker{requests: make(chan priceRequest, 1)}
		pool.workers[i] = worker

		pool.wg.Add(1)

		go func() {
			defer pool.wg.Done()
			worker.loop(pricer)
		}()
	}

	return pool
}

func (p *workerPool) pick() *pricingWorker {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.workers[p.rng.Intn(len(p.workers))]
}

// Price dispatches one pricing request. A request that does not answer
// within the pool timeout is retried once on a freshly picked worker; a
// second timeout is an explicit worker failure, never a silent drop.
func (p *workerPool) Price(ctx context.Context, signal types.Signal, bar types.MarketBar, position optional.Option[types.Position], cash float64) (engine_v1.Fill, error) {
	const attempts = 2

	var lastID string

	for attempt := 1; attempt <= attempts; attempt++ {
		request := priceRequest{
			ID:       uuid.NewString(),
			Signal:   signal,
			Bar:      bar,
			Position: position,
			Cash:     cash,
			reply:    make(chan priceResponse, 1),
		}
		lastID = request.ID

		response, err := p.dispatch(ctx, request)
		if err == nil {
			return response.Fill, response.Err
		}

		if errors.HasCode(err, errors.ErrCodeRunCancelled) {
			return engine_v1.Fill{}, err
		}

		if attempt < attempts {
			p.log.Warn("pricing request timed out, retrying",
				zap.String("request_id", request.ID),
				zap.String("symbol", signal.Symbol),
				zap.Duration("timeout", p.timeout),
			)
		}
	}

	return engine_v1.Fill{}, errors.Newf(errors.ErrCodeWorkerTimeout,
		"pricing request %s for %s timed out after %d attempts", lastID, signal.Symbol, attempts)
}

func (p *workerPool) dispatch(ctx context.Context, request priceRequest) (priceResponse, error) {
	if err := ctx.Err(); err != nil {
		return priceResponse{}, errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled", err)
	}

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case p.pick().requests <- request:
	case <-timer.C:
		return priceResponse{}, errors.Newf(errors.ErrCodeWorkerFailed, "no worker accepted request %s", request.ID)
	case <-ctx.Done():
		return priceResponse{}, errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled", ctx.Err())
	}

	select {
	case response := <-request.reply:
		if response.ID != request.ID {
			return priceResponse{}, errors.Newf(errors.ErrCodeWorkerFailed,
				"response id %s does not match request %s", response.ID, request.ID)
		}

		return response, nil
	case <-timer.C:
		return priceResponse{}, errors.Newf(errors.ErrCodeWorkerFailed, "request %s timed out", request.ID)
	case <-ctx.Done():
		return priceResponse{}, errors.Wrap(errors.ErrCodeRunCancelled, "run cancelled", ctx.Err())
	}
}

// Close stops accepting work and waits for in-flight requests to drain.
func (p *workerPool) Close() {
	p.closeOnce.Do(func() {
		for _, worker := range p.workers {
			close(worker.requests)
		}
	})

	p.wg.Wait()
}
