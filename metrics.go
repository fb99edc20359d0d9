package partconsumer

import metrics "github.com/rcrowley/go-metrics"

// Registry is the subset of rcrowley/go-metrics this core touches.
type Registry interface {
	BatchSizeHistogram() metrics.Histogram
	CommitCounter() metrics.Counter
	CommitRetryCounter() metrics.Counter
}

type registry struct {
	underlying metrics.Registry
	batchSize  metrics.Histogram
	commits    metrics.Counter
	retries    metrics.Counter
}

// NewRegistry builds a private, unregistered go-metrics registry for
// one consumer instance, so instances don't collide in the
// process-wide default registry.
func NewRegistry() Registry {
	r := metrics.NewRegistry()
	sample := metrics.NewUniformSample(1028)
	return &registry{
		underlying: r,
		batchSize:  metrics.GetOrRegisterHistogram("consumer-batch-size", r, sample),
		commits:    metrics.GetOrRegisterCounter("consumer-commits", r),
		retries:    metrics.GetOrRegisterCounter("consumer-commit-retries", r),
	}
}

func (r *registry) BatchSizeHistogram() metrics.Histogram { return r.batchSize }
func (r *registry) CommitCounter() metrics.Counter        { return r.commits }
func (r *registry) CommitRetryCounter() metrics.Counter   { return r.retries }
