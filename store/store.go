package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Store provides DynamoDB operations on tree nodes.
type Store struct {
	client *dynamodb.Client
	config Config
}

// New creates a new Store instance.
func New(client *dynamodb.Client, config Config) *Store {
	config.validate()
	return &Store{
		client: client,
		config: config,
	}
}

// CreateNode creates a node inside one transaction: a parent existence
// check (skipped for roots) plus a conditional put on the node id.
// Fills in ID, Version, and timestamps on the passed node.
func (s *Store) CreateNode(ctx context.Context, n *Node) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.ParentRef == "" {
		n.ParentRef = RootRef
	}
	now := time.Now()
	nowISO := now.UTC().Format(time.RFC3339)
	n.Version = 1
	n.CreatedAt = nowISO
	n.UpdatedAt = nowISO

	item, err := attributevalue.MarshalMap(n)
	if err != nil {
		return fmt.Errorf("marshal node: %w", err)
	}

	items := []types.TransactWriteItem{}
	parentCheckIndex := -1

	// Parent condition check for non-root nodes
	if parentID := RefID(n.ParentRef); parentID != "" {
		parentCheckIndex = len(items)
		items = append(items, types.TransactWriteItem{
			ConditionCheck: &types.ConditionCheck{
				TableName: aws.String(s.config.NodeTable),
				Key: map[string]types.AttributeValue{
					"id": &types.AttributeValueMemberS{Value: parentID},
				},
				ConditionExpression:      aws.String(ParentExistsCondition()),
				ExpressionAttributeNames: TTLFilterNames(),
				ExpressionAttributeValues: map[string]types.AttributeValue{
					":now": &types.AttributeValueMemberN{
						Value: strconv.FormatInt(now.Unix(), 10),
					},
				},
			},
		})
	}

	entityPutIndex := len(items)
	items = append(items, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           aws.String(s.config.NodeTable),
			Item:                item,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		},
	})

	_, err = s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})

	return mapCreateTransactionError(err, parentCheckIndex, entityPutIndex)
}

// GetNode retrieves a node by id, returning ErrNotFound if deleted or missing.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.NodeTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}
	if IsDeleted(result.Item) {
		return nil, ErrNotFound
	}

	return unmarshalNode(result.Item)
}

// ChildrenByLabel returns all live children of parentRef carrying the
// given label. With advisory locking enabled there is at most one;
// without it, duplicates are possible and callers see all of them.
func (s *Store) ChildrenByLabel(ctx context.Context, parentRef, label string) ([]*Node, error) {
	return s.queryChildren(ctx, queryChildrenInput{
		indexName:    s.config.ParentLabelIndex,
		keyCondition: "parent_ref = :parent AND #label = :label",
		names:        map[string]string{"#label": "label"},
		values: map[string]types.AttributeValue{
			":parent": &types.AttributeValueMemberS{Value: parentRef},
			":label":  &types.AttributeValueMemberS{Value: label},
		},
		liveOnly: true,
	})
}

// Children returns the live children of parentRef ordered by order_value.
func (s *Store) Children(ctx context.Context, parentRef string) ([]*Node, error) {
	return s.queryChildren(ctx, queryChildrenInput{
		indexName:    s.config.ParentOrderIndex,
		keyCondition: "parent_ref = :parent",
		values: map[string]types.AttributeValue{
			":parent": &types.AttributeValueMemberS{Value: parentRef},
		},
		liveOnly: true,
	})
}

// AllChildren returns every child of parentRef ordered by order_value,
// including deleted ones. Used by the cascade stream handler, which must
// re-propagate TTLs idempotently.
func (s *Store) AllChildren(ctx context.Context, parentRef string) ([]*Node, error) {
	return s.queryChildren(ctx, queryChildrenInput{
		indexName:    s.config.ParentOrderIndex,
		keyCondition: "parent_ref = :parent",
		values: map[string]types.AttributeValue{
			":parent": &types.AttributeValueMemberS{Value: parentRef},
		},
	})
}

type queryChildrenInput struct {
	indexName    string
	keyCondition string
	names        map[string]string
	values       map[string]types.AttributeValue
	liveOnly     bool
}

func (s *Store) queryChildren(ctx context.Context, in queryChildrenInput) ([]*Node, error) {
	queryInput := &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.NodeTable),
		IndexName:                 aws.String(in.indexName),
		KeyConditionExpression:    aws.String(in.keyCondition),
		ExpressionAttributeValues: in.values,
		ScanIndexForward:          aws.Bool(true),
	}
	if len(in.names) > 0 {
		queryInput.ExpressionAttributeNames = in.names
	}
	if in.liveOnly {
		queryInput.FilterExpression = aws.String(TTLFilterExpr())
		queryInput.ExpressionAttributeNames = mergeExprNames(in.names, TTLFilterNames())
		queryInput.ExpressionAttributeValues = mergeExprValues(in.values, TTLFilterValues())
	}

	var nodes []*Node
	paginator := dynamodb.NewQueryPaginator(s.client, queryInput)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			n, err := unmarshalNode(raw)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}

	return nodes, nil
}

// UpdateOrderValue changes a node's order_value with optimistic locking.
// On success the passed node reflects the new value and version.
func (s *Store) UpdateOrderValue(ctx context.Context, n *Node, orderValue float64) error {
	err := s.updateStructural(ctx, n, "SET order_value = :order_value, ", map[string]types.AttributeValue{
		":order_value": &types.AttributeValueMemberN{
			Value: strconv.FormatFloat(orderValue, 'g', -1, 64),
		},
	})
	if err != nil {
		return err
	}
	n.OrderValue = orderValue
	return nil
}

// Reparent moves a node under a new parent, rewriting its ancestry path,
// with optimistic locking. Cycle checks are the caller's responsibility.
func (s *Store) Reparent(ctx context.Context, n *Node, newParentRef, newAncestryPath string) error {
	err := s.updateStructural(ctx, n, "SET parent_ref = :parent_ref, ancestry_path = :ancestry_path, ", map[string]types.AttributeValue{
		":parent_ref":    &types.AttributeValueMemberS{Value: newParentRef},
		":ancestry_path": &types.AttributeValueMemberS{Value: newAncestryPath},
	})
	if err != nil {
		return err
	}
	n.ParentRef = newParentRef
	n.AncestryPath = newAncestryPath
	return nil
}

// updateStructural applies a version-guarded update to a live node.
// setPrefix must end with ", "; managed fields are appended to it.
func (s *Store) updateStructural(ctx context.Context, n *Node, setPrefix string, values map[string]types.AttributeValue) error {
	now := time.Now().UTC().Format(time.RFC3339)

	exprValues := mergeExprValues(values, map[string]types.AttributeValue{
		":updated_at":       &types.AttributeValueMemberS{Value: now},
		":one":              &types.AttributeValueMemberN{Value: "1"},
		":expected_version": &types.AttributeValueMemberN{Value: strconv.FormatInt(n.Version, 10)},
	})

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.NodeTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: n.ID},
		},
		UpdateExpression:    aws.String(setPrefix + "updated_at = :updated_at, version = version + :one"),
		ConditionExpression: aws.String("version = :expected_version AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: exprValues,
	})

	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return err
	}
	n.Version++
	n.UpdatedAt = now
	return nil
}

// MarkDeleted marks a node deleted by setting its TTL to now.
// Idempotent: marking an already-deleted node is a no-op.
func (s *Store) MarkDeleted(ctx context.Context, id string) error {
	return s.MarkDeletedAt(ctx, id, time.Now().Unix())
}

// MarkDeletedAt marks a node deleted with an explicit TTL value.
// The cascade stream handler uses this to stamp children with the same
// TTL as their parent. Also bumps the version to fail concurrent
// structural updates racing the delete.
func (s *Store) MarkDeletedAt(ctx context.Context, id string, ttl int64) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.config.NodeTable),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:    aws.String("SET #ttl = :ttl, version = version + :one"),
		ConditionExpression: aws.String("attribute_exists(id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#ttl": "ttl",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":ttl": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(ttl, 10),
			},
			":one": &types.AttributeValueMemberN{Value: "1"},
		},
	})

	// Ignore condition failure - already deleted or never existed
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// mapCreateTransactionError maps DynamoDB transaction errors for CreateNode.
// parentCheckIndex is the index of the parent check item (-1 if none).
// entityPutIndex is the index of the node put item.
func mapCreateTransactionError(err error, parentCheckIndex, entityPutIndex int) error {
	if err == nil {
		return nil
	}

	var txErr *types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for i, reason := range txErr.CancellationReasons {
			if reason.Code != nil && *reason.Code == "ConditionalCheckFailed" {
				if i == parentCheckIndex {
					return ErrParentNotFound
				}
				if i == entityPutIndex {
					return ErrAlreadyExists
				}
			}
		}
	}

	return err
}

// unmarshalNode converts a DynamoDB item to a Node.
func unmarshalNode(raw map[string]types.AttributeValue) (*Node, error) {
	var n Node
	if err := attributevalue.UnmarshalMap(raw, &n); err != nil {
		return nil, fmt.Errorf("unmarshal node: %w", err)
	}
	return &n, nil
}

// mergeExprNames combines expression attribute name maps; later maps win.
func mergeExprNames(maps ...map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}

// mergeExprValues combines expression attribute value maps; later maps win.
func mergeExprValues(maps ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	merged := make(map[string]types.AttributeValue)
	for _, m := range maps {
		for k, v := range m {
			merged[k] = v
		}
	}
	return merged
}
