package classifier

import (
	"context"

	"github.com/fpt/nexus-guard/internal/store"
)

// Router sends text and email to one classifier and media to another.
type Router struct {
	Text  Classifier
	Media Classifier
}

func (r Router) Classify(ctx context.Context, msg store.Message) (Result, error) {
	if msg.Kind.IsMedia() {
		return r.Media.Classify(ctx, msg)
	}
	return r.Text.Classify(ctx, msg)
}
