package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/cppla/pagestats/config"
	"github.com/cppla/pagestats/models"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

const pageExists = "attribute_exists(page_id)"

// DynamoStore keeps records in a single table with partition key page_id (N).
type DynamoStore struct {
	client DynamoAPI
	table  string
	// tableWait bounds how long Init waits for a freshly created table.
	tableWait time.Duration
}

// NewDynamoStore wraps an existing client.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table, tableWait: 2 * time.Minute}
}

// OpenDynamo loads AWS configuration and builds a client. AWSURL points the
// client at a local endpoint such as DynamoDB Local.
func OpenDynamo(ctx context.Context, cfg config.StoreConfig) (*DynamoStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.AWSURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSURL)
		}
	})
	return NewDynamoStore(client, cfg.DynamoTable), nil
}

func pageKey(pageID int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"page_id": &types.AttributeValueMemberN{Value: strconv.FormatInt(pageID, 10)},
	}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// Init creates the table; an existing table is not an error.
func (d *DynamoStore) Init(ctx context.Context) error {
	_, err := d.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(d.table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("page_id"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("page_id"), AttributeType: types.ScalarAttributeTypeN},
		},
		ProvisionedThroughput: &types.ProvisionedThroughput{
			ReadCapacityUnits:  aws.Int64(10),
			WriteCapacityUnits: aws.Int64(10),
		},
	})
	var inUse *types.ResourceInUseException
	if errors.As(err, &inUse) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", d.table, err)
	}
	waiter := dynamodb.NewTableExistsWaiter(d.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(d.table)}, d.tableWait); err != nil {
		return fmt.Errorf("wait for table %s: %w", d.table, err)
	}
	return nil
}

func (d *DynamoStore) Close() error { return nil }

func (d *DynamoStore) Put(ctx context.Context, rec models.PageStatistics) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("marshal page %d: %w", rec.PageID, err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(d.table), Item: item}); err != nil {
		return fmt.Errorf("dynamodb put page %d: %w", rec.PageID, err)
	}
	return nil
}

func (d *DynamoStore) UpdateFields(ctx context.Context, pageID int64, meta models.PageMeta) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.table),
		Key:                 pageKey(pageID),
		UpdateExpression:    aws.String("SET #name = :name, #description = :description"),
		ConditionExpression: aws.String(pageExists),
		ExpressionAttributeNames: map[string]string{
			"#name":        "name",
			"#description": "description",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name":        &types.AttributeValueMemberS{Value: meta.Name},
			":description": &types.AttributeValueMemberS{Value: meta.Description},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("dynamodb update page %d: %w", pageID, err)
	}
	return nil
}

// AdjustCounter uses ADD, which DynamoDB applies atomically on the server.
func (d *DynamoStore) AdjustCounter(ctx context.Context, pageID int64, counter models.Counter, delta int64) error {
	if !counter.Valid() {
		return fmt.Errorf("unknown counter %q", counter)
	}
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(d.table),
		Key:                      pageKey(pageID),
		UpdateExpression:         aws.String("ADD counters.#counter :delta"),
		ConditionExpression:      aws.String(pageExists),
		ExpressionAttributeNames: map[string]string{"#counter": string(counter)},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":delta": &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)},
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("dynamodb adjust %s on page %d: %w", counter, pageID, err)
	}
	return nil
}

func (d *DynamoStore) Delete(ctx context.Context, pageID int64) error {
	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(d.table), Key: pageKey(pageID)}); err != nil {
		return fmt.Errorf("dynamodb delete page %d: %w", pageID, err)
	}
	return nil
}

func (d *DynamoStore) Get(ctx context.Context, pageID int64) (*models.PageStatistics, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            pageKey(pageID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get page %d: %w", pageID, err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	var rec models.PageStatistics
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal page %d: %w", pageID, err)
	}
	return &rec, nil
}

// QueryByOwner scans the whole table; page_id is the only key so there is no index to query.
func (d *DynamoStore) QueryByOwner(ctx context.Context, ownerID int64) ([]models.PageStatistics, error) {
	p := dynamodb.NewScanPaginator(d.client, &dynamodb.ScanInput{
		TableName:                aws.String(d.table),
		FilterExpression:         aws.String("owner_id = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberN{Value: strconv.FormatInt(ownerID, 10)},
		},
	})
	out := []models.PageStatistics{}
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamodb scan owner %d: %w", ownerID, err)
		}
		var recs []models.PageStatistics
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &recs); err != nil {
			return nil, fmt.Errorf("unmarshal scan page: %w", err)
		}
		out = append(out, recs...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (d *DynamoStore) QueryByOwnerAndPage(ctx context.Context, ownerID, pageID int64) (*models.PageStatistics, error) {
	rec, err := d.Get(ctx, pageID)
	return ownedBy(rec, err, ownerID)
}
