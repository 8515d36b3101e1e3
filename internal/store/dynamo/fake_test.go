package dynamo

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeAPI is an in-memory table that understands the handful of expressions
// the store issues.
type fakeAPI struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// err, when set, is returned by the next call and cleared.
	err   error
	calls []string

	// missing makes DescribeTable report the table as absent until
	// CreateTable is called.
	missing bool
	created *dynamodb.CreateTableInput
}

var _ API = (*fakeAPI)(nil)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]map[string]types.AttributeValue)}
}

func itemID(key map[string]types.AttributeValue) string {
	return key[attrPseudoKey].(*types.AttributeValueMemberS).Value + "\x00" + key[attrCreateTime].(*types.AttributeValueMemberN).Value
}

func numOf(av types.AttributeValue) uint64 {
	n, _ := strconv.ParseUint(av.(*types.AttributeValueMemberN).Value, 10, 64)
	return n
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	c := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		c[k] = v
	}
	return c
}

func (f *fakeAPI) begin(name string) error {
	f.calls = append(f.calls, name)
	if f.err != nil {
		err := f.err
		f.err = nil
		return err
	}
	return nil
}

func (f *fakeAPI) checkVersion(key map[string]types.AttributeValue, cond *string, values map[string]types.AttributeValue) bool {
	if cond == nil {
		return true
	}
	existing, ok := f.items[itemID(key)]
	switch aws.ToString(cond) {
	case condNotExists:
		return !ok
	case condVersion:
		return ok && numOf(existing[attrVersion]) == numOf(values[":version"])
	}
	return false
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	item, ok := f.items[itemID(in.Key)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: copyItem(item)}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	if !f.checkVersion(in.Item, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[itemID(in.Item)] = copyItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	if !f.checkVersion(in.Key, in.ConditionExpression, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("version")}
	}
	item := copyItem(f.items[itemID(in.Key)])
	v := in.ExpressionAttributeValues
	switch aws.ToString(in.UpdateExpression) {
	case updateEndTime:
		item[attrEndTime] = v[":end"]
		item[attrIsEndCanon] = v[":canon"]
	case updateCanonical:
		item[attrIsCreateCanon] = v[":canon"]
	default:
		return nil, errors.New("fake: unsupported update expression")
	}
	item[attrVersion] = v[":next"]
	f.items[itemID(in.Key)] = item
	return &dynamodb.UpdateItemOutput{Attributes: copyItem(item)}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	delete(f.items, itemID(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) sorted(pk string) []map[string]types.AttributeValue {
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if pk == "" || item[attrPseudoKey].(*types.AttributeValueMemberS).Value == pk {
			out = append(out, copyItem(item))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi := out[i][attrPseudoKey].(*types.AttributeValueMemberS).Value
		pj := out[j][attrPseudoKey].(*types.AttributeValueMemberS).Value
		if pi != pj {
			return pi < pj
		}
		return numOf(out[i][attrCreateTime]) < numOf(out[j][attrCreateTime])
	})
	return out
}

func (f *fakeAPI) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value
	cond := aws.ToString(in.KeyConditionExpression)

	var matched []map[string]types.AttributeValue
	for _, item := range f.sorted(pk) {
		ct := numOf(item[attrCreateTime])
		switch {
		case strings.Contains(cond, ">="):
			if ct < numOf(in.ExpressionAttributeValues[":ts"]) {
				continue
			}
		case strings.Contains(cond, "<="):
			if ct > numOf(in.ExpressionAttributeValues[":ts"]) {
				continue
			}
		}
		matched = append(matched, item)
	}
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: matched, Count: int32(len(matched))}, nil
}

func (f *fakeAPI) Scan(_ context.Context, _ *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	items := f.sorted("")
	// Reverse so the store's own ordering is exercised.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *fakeAPI) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		var ok bool
		switch {
		case ti.Delete != nil:
			ok = f.checkVersion(ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeValues)
		case ti.Put != nil:
			ok = f.checkVersion(ti.Put.Item, ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues)
		}
		if !ok {
			reasons[i].Code = aws.String(reasonConditionalCheckFailed)
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, ti := range in.TransactItems {
		switch {
		case ti.Delete != nil:
			delete(f.items, itemID(ti.Delete.Key))
		case ti.Put != nil:
			f.items[itemID(ti.Put.Item)] = copyItem(ti.Put.Item)
		}
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DescribeTable"); err != nil {
		return nil, err
	}
	if f.missing {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found")}
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableName: in.TableName, TableStatus: types.TableStatusActive}}, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("CreateTable"); err != nil {
		return nil, err
	}
	if !f.missing {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	f.missing = false
	f.created = in
	return &dynamodb.CreateTableOutput{TableDescription: &types.TableDescription{TableName: in.TableName}}, nil
}
