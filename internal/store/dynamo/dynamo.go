// Package dynamo implements the store.Store interface backed by a DynamoDB
// table keyed by pseudo_key (partition) and create_time (sort).
package dynamo

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/alfredjeanlab/sessions/internal/model"
	"github.com/alfredjeanlab/sessions/internal/store"
)

// Attribute names of the session table.
const (
	attrPseudoKey     = "pseudo_key"
	attrCreateTime    = "create_time"
	attrEndTime       = "end_time"
	attrIsCreateCanon = "is_create_canon"
	attrIsEndCanon    = "is_end_canon"
	attrVersion       = "version"
)

const (
	condNotExists    = "attribute_not_exists(" + attrPseudoKey + ")"
	condVersion      = attrVersion + " = :version"
	keyCondAfter     = attrPseudoKey + " = :pk AND " + attrCreateTime + " >= :ts"
	keyCondBefore    = attrPseudoKey + " = :pk AND " + attrCreateTime + " <= :ts"
	keyCondPseudoKey = attrPseudoKey + " = :pk"
	updateEndTime    = "SET " + attrEndTime + " = :end, " + attrIsEndCanon + " = :canon, " + attrVersion + " = :next"
	updateCanonical  = "SET " + attrIsCreateCanon + " = :canon, " + attrVersion + " = :next"
)

// API is the subset of the DynamoDB client used by the store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// DynamoStore implements store.Store on a single DynamoDB table.
type DynamoStore struct {
	api   API
	table string
}

// Compile-time check that DynamoStore implements store.Store.
var _ store.Store = (*DynamoStore)(nil)

// New creates a store for the given table. If endpoint is non-empty it
// overrides the service endpoint (for DynamoDB Local and similar).
func New(ctx context.Context, table, region, endpoint string) (*DynamoStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var opts []func(*dynamodb.Options)
	if endpoint != "" {
		opts = append(opts, func(o *dynamodb.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	return NewFromAPI(dynamodb.NewFromConfig(cfg, opts...), table), nil
}

// NewFromAPI wraps an existing client.
func NewFromAPI(api API, table string) *DynamoStore {
	return &DynamoStore{api: api, table: table}
}

func sessionKey(pseudoKey string, createTime uint64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPseudoKey:  &types.AttributeValueMemberS{Value: pseudoKey},
		attrCreateTime: numberValue(createTime),
	}
}

func numberValue(n uint64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatUint(n, 10)}
}

func unmarshalSession(item map[string]types.AttributeValue) (*model.Session, error) {
	var s model.Session
	if err := attributevalue.UnmarshalMap(item, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Ping describes the table.
func (d *DynamoStore) Ping(ctx context.Context) error {
	_, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	if err != nil {
		return mapError("describe table", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (d *DynamoStore) Close() error {
	return nil
}

func (d *DynamoStore) FindFirstSessionAfter(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	return d.queryOne(ctx, "find first session after", keyCondAfter, true, unid)
}

func (d *DynamoStore) FindLastSessionBefore(ctx context.Context, unid model.UnidSession) (*model.Session, error) {
	return d.queryOne(ctx, "find last session before", keyCondBefore, false, unid)
}

func (d *DynamoStore) queryOne(ctx context.Context, op, keyCond string, forward bool, unid model.UnidSession) (*model.Session, error) {
	out, err := d.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.table),
		KeyConditionExpression: aws.String(keyCond),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: unid.PseudoKey},
			":ts": numberValue(unid.Timestamp),
		},
		ScanIndexForward: aws.Bool(forward),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return nil, mapError(op, err)
	}
	if len(out.Items) == 0 {
		return nil, fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return unmarshalSession(out.Items[0])
}

func (d *DynamoStore) GetSession(ctx context.Context, pseudoKey string, createTime uint64) (*model.Session, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            sessionKey(pseudoKey, createTime),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, mapError("get session", err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("get session: %w", store.ErrNotFound)
	}
	return unmarshalSession(out.Item)
}

// ListSessions queries one partition, or scans the table when pseudoKey is
// empty. Results are ordered by (pseudo_key, create_time).
func (d *DynamoStore) ListSessions(ctx context.Context, pseudoKey string) ([]*model.Session, error) {
	var items []map[string]types.AttributeValue
	if pseudoKey != "" {
		p := dynamodb.NewQueryPaginator(d.api, &dynamodb.QueryInput{
			TableName:              aws.String(d.table),
			KeyConditionExpression: aws.String(keyCondPseudoKey),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: pseudoKey},
			},
			ConsistentRead: aws.Bool(true),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, mapError("list sessions", err)
			}
			items = append(items, page.Items...)
		}
	} else {
		p := dynamodb.NewScanPaginator(d.api, &dynamodb.ScanInput{
			TableName:      aws.String(d.table),
			ConsistentRead: aws.Bool(true),
		})
		for p.HasMorePages() {
			page, err := p.NextPage(ctx)
			if err != nil {
				return nil, mapError("scan sessions", err)
			}
			items = append(items, page.Items...)
		}
	}

	sessions := make([]*model.Session, 0, len(items))
	for _, item := range items {
		s, err := unmarshalSession(item)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].PseudoKey != sessions[j].PseudoKey {
			return sessions[i].PseudoKey < sessions[j].PseudoKey
		}
		return sessions[i].CreateTime < sessions[j].CreateTime
	})
	return sessions, nil
}

func (d *DynamoStore) CreateSession(ctx context.Context, s *model.Session) error {
	item, err := attributevalue.MarshalMap(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.table),
		Item:                item,
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("create session %s@%d: %w", s.PseudoKey, s.CreateTime, store.ErrAlreadyExists)
		}
		return mapError("create session", err)
	}
	return nil
}

// UpdateSessionCreateTime moves the row in one TransactWriteItems call: a
// version-conditioned Delete of the old key and a Put of the new key.
func (d *DynamoStore) UpdateSessionCreateTime(ctx context.Context, s *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	moved := s.Clone()
	moved.CreateTime = newTime
	moved.IsCreateCanon = isCanon
	moved.Version = s.Version + 1

	item, err := attributevalue.MarshalMap(moved)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	_, err = d.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Delete: &types.Delete{
					TableName:           aws.String(d.table),
					Key:                 sessionKey(s.PseudoKey, s.CreateTime),
					ConditionExpression: aws.String(condVersion),
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":version": numberValue(s.Version),
					},
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(d.table),
					Item:                item,
					ConditionExpression: aws.String(condNotExists),
				},
			},
		},
	})
	if err != nil {
		return nil, mapTransactError(s, err)
	}
	return moved, nil
}

func (d *DynamoStore) UpdateSessionEndTime(ctx context.Context, s *model.Session, newTime uint64, isCanon bool) (*model.Session, error) {
	return d.conditionalUpdate(ctx, "update session end time", s, updateEndTime, map[string]types.AttributeValue{
		":end":   numberValue(newTime),
		":canon": &types.AttributeValueMemberBOOL{Value: isCanon},
	})
}

func (d *DynamoStore) MakeCreateTimeCanonical(ctx context.Context, s *model.Session) (*model.Session, error) {
	return d.conditionalUpdate(ctx, "make create time canonical", s, updateCanonical, map[string]types.AttributeValue{
		":canon": &types.AttributeValueMemberBOOL{Value: true},
	})
}

func (d *DynamoStore) conditionalUpdate(ctx context.Context, op string, s *model.Session, expr string, values map[string]types.AttributeValue) (*model.Session, error) {
	values[":version"] = numberValue(s.Version)
	values[":next"] = numberValue(s.Version + 1)

	out, err := d.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.table),
		Key:                       sessionKey(s.PseudoKey, s.CreateTime),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(condVersion),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		if isConditionFailed(err) {
			return nil, fmt.Errorf("%s %s@%d v%d: %w", op, s.PseudoKey, s.CreateTime, s.Version, store.ErrPreconditionFailed)
		}
		return nil, mapError(op, err)
	}
	return unmarshalSession(out.Attributes)
}

func (d *DynamoStore) DeleteSession(ctx context.Context, s *model.Session) error {
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.table),
		Key:       sessionKey(s.PseudoKey, s.CreateTime),
	})
	if err != nil {
		return mapError("delete session", err)
	}
	return nil
}

// RunInTransaction calls fn with the store itself. DynamoDB has no
// interactive transactions: every single-row write is conditioned on its
// version and relocation is one TransactWriteItems call.
func (d *DynamoStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(d)
}
