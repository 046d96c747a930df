package sink

import (
	"context"
	"sync"

	"github.com/smallbiznis/chargeflow/internal/cdr/domain"
)

// Recorder keeps everything it receives in memory. Err, when set, is returned
// from every send.
type Recorder struct {
	mu      sync.Mutex
	batches [][]domain.Record
	models  []domain.RevenueModel
	Err     error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) SendCDRs(_ context.Context, records []domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	batch := make([]domain.Record, len(records))
	copy(batch, records)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *Recorder) SendRevenueModel(_ context.Context, model domain.RevenueModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.models = append(r.models, model)
	return nil
}

func (r *Recorder) Batches() [][]domain.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]domain.Record, len(r.batches))
	copy(out, r.batches)
	return out
}

func (r *Recorder) Records() []domain.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Record
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *Recorder) RevenueModels() []domain.RevenueModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RevenueModel, len(r.models))
	copy(out, r.models)
	return out
}
