package store

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
)

// DynamoAPI is the subset of the DynamoDB client used by DynamoStore.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoStore implements OutlierStore on a single DynamoDB table.
type DynamoStore struct {
	client    DynamoAPI
	tableName string
}

// Compile-time interface check.
var _ OutlierStore = (*DynamoStore)(nil)

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client DynamoAPI, tableName string) *DynamoStore {
	return &DynamoStore{client: client, tableName: tableName}
}

// TableName returns the backing table name.
func (s *DynamoStore) TableName() string { return s.tableName }

// PutEvent writes event unless an item with the same key already exists.
func (s *DynamoStore) PutEvent(ctx context.Context, event *OutlierEvent) error {
	generic, err := event.ToItem()
	if err != nil {
		return err
	}
	item, err := attributevalue.MarshalMap(generic)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	cond := expression.AttributeNotExists(expression.Name(AttrPartitionKey))
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("build condition: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                &s.tableName,
		Item:                     item,
		ConditionExpression:      expr.Condition(),
		ExpressionAttributeNames: expr.Names(),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("%w: %s @ %d", ErrDuplicateEvent, event.EventID, event.Timestamp)
		}
		return fmt.Errorf("PutItem %s=%s: %w", AttrPartitionKey, event.EventID, err)
	}

	log.Debug().
		Str("eventId", event.EventID).
		Int64("timestamp", event.Timestamp).
		Int("outliers", event.OutlierCount).
		Msg("Outlier event persisted to DynamoDB")
	return nil
}

// ScanEvents pages through the table until filter.Limit matching items are
// collected or the table is exhausted. DynamoDB applies Limit before the
// filter expression, so a single page can hold fewer matches than asked for.
func (s *DynamoStore) ScanEvents(ctx context.Context, filter ScanFilter) ([]Item, error) {
	if filter.Limit <= 0 {
		return nil, fmt.Errorf("scan limit must be positive, got %d", filter.Limit)
	}

	input := &dynamodb.ScanInput{
		TableName: &s.tableName,
		Limit:     aws.Int32(pageSize(filter.Limit)),
	}
	if cond, ok := filterCondition(filter); ok {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var items []Item
	pages := 0
	for {
		result, err := s.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("Scan %s: %w", s.tableName, err)
		}
		pages++

		for _, raw := range result.Items {
			var item Item
			if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
				return nil, fmt.Errorf("unmarshal scanned item: %w", err)
			}
			items = append(items, item)
		}

		if len(items) >= filter.Limit || result.LastEvaluatedKey == nil {
			break
		}
		input.ExclusiveStartKey = result.LastEvaluatedKey
	}

	if len(items) > filter.Limit {
		items = items[:filter.Limit]
	}

	log.Debug().
		Str("table", s.tableName).
		Int("pages", pages).
		Int("items", len(items)).
		Msg("Outlier events scanned")
	return items, nil
}

// pageSize converts the item limit to a Scan page size, clamped to int32.
func pageSize(limit int) int32 {
	if limit > math.MaxInt32 {
		return math.MaxInt32
	}
	return int32(limit)
}

// filterCondition combines the equality and inclusive range constraints.
func filterCondition(f ScanFilter) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	if f.VideoName != "" {
		conds = append(conds, expression.Name(AttrVideoName).Equal(expression.Value(f.VideoName)))
	}
	if f.Start != nil {
		conds = append(conds, expression.Name(AttrSortKey).GreaterThanEqual(expression.Value(*f.Start)))
	}
	if f.End != nil {
		conds = append(conds, expression.Name(AttrSortKey).LessThanEqual(expression.Value(*f.End)))
	}

	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	default:
		return expression.And(conds[0], conds[1], conds[2:]...), true
	}
}
