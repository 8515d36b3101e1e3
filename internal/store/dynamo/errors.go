package dynamo

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

// Cancellation reason code for a failed condition inside a transaction.
const reasonConditionalCheckFailed = "ConditionalCheckFailed"

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// mapError wraps err with the store sentinel matching its cause.
func mapError(op string, err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
		conflict   *types.TransactionConflictException
		inProgress *types.TransactionInProgressException
		apiErr     smithy.APIError
		netErr     net.Error
	)
	switch {
	case errors.As(err, &conflict), errors.As(err, &inProgress):
		return fmt.Errorf("%s: %w: %w", op, store.ErrTransactionFailed, err)
	case errors.As(err, &throughput), errors.As(err, &limit), errors.As(err, &internal):
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	case errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultServer:
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, store.ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapTransactError classifies a failed relocation. A failed version check
// on the Delete means a stale read; anything else cancelled the write as a
// whole and left the old row in place.
func mapTransactError(s *model.Session, err error) error {
	var tce *types.TransactionCanceledException
	if errors.As(err, &tce) {
		reasons := tce.CancellationReasons
		if len(reasons) > 0 && reasons[0].Code != nil && *reasons[0].Code == reasonConditionalCheckFailed {
			return fmt.Errorf("relocate session %s@%d v%d: %w", s.PseudoKey, s.CreateTime, s.Version, store.ErrPreconditionFailed)
		}
		return fmt.Errorf("relocate session %s@%d: %w: %w", s.PseudoKey, s.CreateTime, store.ErrTransactionFailed, err)
	}
	mapped := mapError("relocate session", err)
	if errors.Is(mapped, store.ErrUnavailable) {
		return mapped
	}
	return fmt.Errorf("relocate session %s@%d: %w: %w", s.PseudoKey, s.CreateTime, store.ErrTransactionFailed, err)
}
