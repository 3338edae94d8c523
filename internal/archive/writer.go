package archive

import (
	"context"

	"github.com/austindbirch/thought_relay/internal/delivery"
)

// Writer adapts a Store to the delivery pipeline's recording hooks: it is
// both the dispatcher's Recorder and a dead-letter sink, so one archive
// receives every terminal outcome plus the abandoned envelopes.
type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Record implements delivery.Recorder.
func (w *Writer) Record(ctx context.Context, res delivery.Result) error {
	return w.store.SaveResult(ctx, Record{
		TaskID:      res.Task.ID,
		Category:    res.Task.Category.String(),
		Priority:    res.Task.Priority.String(),
		Destination: res.Task.Destination.URL,
		Delivered:   res.Delivered,
		Attempts:    res.Attempts,
		HTTPStatus:  res.Status,
		Reason:      res.Reason,
		LatencyMS:   res.Duration.Milliseconds(),
		Body:        res.Task.Body,
		FinishedAt:  res.FinishedAt,
	})
}

// Publish implements delivery.DeadLetterSink.
func (w *Writer) Publish(ctx context.Context, dl delivery.DeadLetter) error {
	return w.store.SaveDeadLetter(ctx, dl)
}
