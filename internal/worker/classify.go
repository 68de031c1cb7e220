package worker

import (
	"context"
	"errors"
	"net"

	"marketsync/internal/fetcher"
	"marketsync/internal/models"
)

// ErrStorage marks failures of the local store, as opposed to upstream ones.
var ErrStorage = errors.New("storage failure")

// Classify maps an operation error onto a ledger error type.
func Classify(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, fetcher.ErrRateLimited):
		return models.ErrorTypeRateLimited
	case errors.Is(err, fetcher.ErrNotFound):
		return models.ErrorTypeNotFound
	case errors.Is(err, ErrStorage):
		return models.ErrorTypeStorage
	case errors.Is(err, context.DeadlineExceeded):
		return models.ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return models.ErrorTypeCanceled
	case errors.As(err, &netErr) && netErr.Timeout():
		return models.ErrorTypeTimeout
	default:
		return models.ErrorTypeUpstream
	}
}
