// Package stream provides DynamoDB Streams handlers for cascade deletes.
//
// The engine (package tree) marks a deleted subtree synchronously; this
// handler is the backstop. Whenever a node's TTL is newly set, it stamps
// the same TTL onto all of the node's children, which triggers their own
// stream records in turn. A cascade interrupted mid-walk therefore
// always finishes, no matter which process started it.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/arbor/store"
)

// Handler processes DynamoDB stream events for cascade deletes.
type Handler struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(s *store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:  s,
		logger: logger,
	}
}

// HandleCascadeDelete processes DynamoDB stream events to propagate TTL
// to child nodes. This function is designed to be used as an AWS Lambda
// handler.
func (h *Handler) HandleCascadeDelete(ctx context.Context, event events.DynamoDBEvent) error {
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	// Only process MODIFY events where TTL was added
	if record.EventName != "MODIFY" {
		return nil
	}

	oldTTL := getNumberAttr(record.Change.OldImage, "ttl")
	newTTL := getNumberAttr(record.Change.NewImage, "ttl")

	// Only process when TTL is newly set (was absent/0, now present)
	if oldTTL != 0 || newTTL == 0 {
		return nil
	}

	// Key attributes are present in every stream record regardless of
	// view type, unlike the images.
	key := ConvertStreamKey(record.Change.Keys)
	id, ok := key["id"].(*types.AttributeValueMemberS)
	if !ok || id.Value == "" {
		return nil
	}
	nodeRef := "node#" + id.Value

	h.logger.Info("processing cascade delete",
		"node", nodeRef,
		"ttl", newTTL,
	)

	// Query all children, including already-marked ones: re-stamping is
	// idempotent and keeps retries safe.
	children, err := h.store.AllChildren(ctx, nodeRef)
	if err != nil {
		return fmt.Errorf("query children: %w", err)
	}

	for _, child := range children {
		if err := h.store.MarkDeletedAt(ctx, child.ID, newTTL); err != nil {
			h.logger.Warn("failed to set TTL on child",
				"child", child.Ref(),
				"error", err,
			)
			// Continue - idempotent, will retry
		}
	}

	h.logger.Info("cascade delete completed",
		"node", nodeRef,
		"childrenProcessed", len(children),
	)

	return nil
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertStreamKey converts a stream record's key attributes to store
// attribute values. The handler recovers the node id from the record
// key with it; it also serves any store operation that needs to act on
// a streamed row directly.
func ConvertStreamKey(streamKey map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for k, v := range streamKey {
		switch v.DataType() {
		case events.DataTypeString:
			result[k] = &types.AttributeValueMemberS{Value: v.String()}
		case events.DataTypeNumber:
			result[k] = &types.AttributeValueMemberN{Value: v.Number()}
		case events.DataTypeBinary:
			result[k] = &types.AttributeValueMemberB{Value: v.Binary()}
		}
	}
	return result
}
