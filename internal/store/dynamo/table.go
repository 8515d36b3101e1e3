package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// tableActiveTimeout bounds the wait for a freshly created table.
const tableActiveTimeout = 2 * time.Minute

// EnsureTable creates the session table when it does not exist and waits
// for it to become active. It reports whether a table was created.
func (d *DynamoStore) EnsureTable(ctx context.Context) (bool, error) {
	_, err := d.api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)})
	if err == nil {
		return false, nil
	}
	var nf *types.ResourceNotFoundException
	if !errors.As(err, &nf) {
		return false, mapError("describe table", err)
	}

	_, err = d.api.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.table),
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(attrPseudoKey), AttributeType: types.ScalarAttributeTypeS},
			{AttributeName: aws.String(attrCreateTime), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(attrPseudoKey), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(attrCreateTime), KeyType: types.KeyTypeRange},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return false, mapError("create table", err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(d.api)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)}, tableActiveTimeout); err != nil {
		return false, fmt.Errorf("wait for table %s: %w", d.table, err)
	}
	return true, nil
}
