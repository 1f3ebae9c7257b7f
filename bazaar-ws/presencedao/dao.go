package presencedao

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/savaki/ddb"
)

// DAO provides access to the presence table.
type DAO struct {
	table     *ddb.Table
	api       dynamodbiface.DynamoDBAPI
	tableName string
}

// New creates a new presence DAO.
func New(api dynamodbiface.DynamoDBAPI, tableName string) *DAO {
	return &DAO{
		table:     ddb.New(api).MustTable(tableName, Presence{}),
		api:       api,
		tableName: tableName,
	}
}

// Put stores a presence record.
func (d *DAO) Put(ctx context.Context, p Presence) error {
	if err := d.table.Put(p).RunWithContext(ctx); err != nil {
		return fmt.Errorf("failed to put presence for connection %v: %w", p.ConnectionID, err)
	}
	return nil
}

// Get retrieves a presence record by connection id.
func (d *DAO) Get(ctx context.Context, connectionID string) (*Presence, error) {
	var p Presence
	if err := d.table.Get(connectionID).ScanWithContext(ctx, &p); err != nil {
		if ddb.IsItemNotFoundError(err) {
			return nil, fmt.Errorf("presence for connection %v not found", connectionID)
		}
		return nil, fmt.Errorf("failed to get presence for connection %v: %w", connectionID, err)
	}
	return &p, nil
}

// Delete removes a presence record. Deleting a missing record is not an error.
func (d *DAO) Delete(ctx context.Context, connectionID string) error {
	return d.table.Delete(connectionID).RunWithContext(ctx)
}

// QueryByIdentity returns every presence record of identity using the IdentityIndex GSI.
func (d *DAO) QueryByIdentity(ctx context.Context, identity string) ([]Presence, error) {
	var records []Presence
	err := d.table.Query("#Identity = ?", identity).
		IndexName(IdentityIndex).
		FindAllWithContext(ctx, &records)
	if err != nil {
		return nil, fmt.Errorf("failed to query presence by identity %v: %w", identity, err)
	}
	return records, nil
}

// Count returns the number of connections recorded for identity.
func (d *DAO) Count(ctx context.Context, identity string) (int64, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		IndexName:              aws.String(IdentityIndex),
		KeyConditionExpression: aws.String("#identity = :identity"),
		ExpressionAttributeNames: map[string]*string{
			"#identity": aws.String("identity"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":identity": {S: aws.String(identity)},
		},
		Select: aws.String(dynamodb.SelectCount),
	}

	output, err := d.api.QueryWithContext(ctx, input)
	if err != nil {
		return 0, fmt.Errorf("failed to count presence for identity %v: %w", identity, err)
	}
	return aws.Int64Value(output.Count), nil
}

// Online reports whether identity has at least one live connection on any node.
func (d *DAO) Online(ctx context.Context, identity string) (bool, error) {
	n, err := d.Count(ctx, identity)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
