package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/storefront/internal/order/application"
	"github.com/dmehra2102/storefront/internal/order/domain"
)

// sortTime keeps GSI1SK lexically ordered by creation time.
const sortTime = "2006-01-02T15:04:05.000000000Z"

// API is the subset of the DynamoDB client the repository uses.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, opts ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// NewClient builds a DynamoDB client from the default AWS credential
// chain. endpoint, when set, points it at DynamoDB Local.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// Repository stores one item per order under PK=ORDER#<id>, SK=METADATA,
// indexed by user on GSI1. Events go to PK=ORDER#<id>, SK=EVENT#<time>#<type>
// in the same transaction, for a stream consumer to pick up.
type Repository struct {
	log   *slog.Logger
	api   API
	table string
}

func NewRepository(log *slog.Logger, api API, table string) *Repository {
	return &Repository{log: log, api: api, table: table}
}

type lineItem struct {
	ProductID string `dynamodbav:"productId"`
	Name      string `dynamodbav:"name"`
	Price     string `dynamodbav:"price"`
	Quantity  int    `dynamodbav:"quantity"`
	Image     string `dynamodbav:"image"`
	Subtotal  string `dynamodbav:"subtotal"`
}

type orderItem struct {
	PK              string         `dynamodbav:"PK"`
	SK              string         `dynamodbav:"SK"`
	GSI1PK          string         `dynamodbav:"GSI1PK"`
	GSI1SK          string         `dynamodbav:"GSI1SK"`
	ID              string         `dynamodbav:"id"`
	UserID          string         `dynamodbav:"userId"`
	Items           []lineItem     `dynamodbav:"items"`
	TotalAmount     string         `dynamodbav:"totalAmount"`
	Status          string         `dynamodbav:"status"`
	PaymentStatus   string         `dynamodbav:"paymentStatus"`
	ShippingAddress domain.Address `dynamodbav:"shippingAddress"`
	CreatedAt       time.Time      `dynamodbav:"createdAt"`
	UpdatedAt       time.Time      `dynamodbav:"updatedAt"`
}

type eventItem struct {
	PK          string `dynamodbav:"PK"`
	SK          string `dynamodbav:"SK"`
	Type        string `dynamodbav:"type"`
	Payload     string `dynamodbav:"payload"`
	Traceparent string `dynamodbav:"traceparent"`
}

func orderKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "ORDER#" + id},
		"SK": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func toItem(o domain.Order) orderItem {
	lines := make([]lineItem, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, lineItem{
			ProductID: it.ProductID,
			Name:      it.Name,
			Price:     it.Price.String(),
			Quantity:  it.Quantity,
			Image:     it.Image,
			Subtotal:  it.Subtotal.String(),
		})
	}
	return orderItem{
		PK:              "ORDER#" + o.ID,
		SK:              "METADATA",
		GSI1PK:          "USER#" + o.UserID,
		GSI1SK:          "ORDER#" + o.CreatedAt.UTC().Format(sortTime) + "#" + o.ID,
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           lines,
		TotalAmount:     o.TotalAmount.String(),
		Status:          string(o.Status),
		PaymentStatus:   string(o.PaymentStatus),
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
	}
}

func (it orderItem) toDomain() (domain.Order, error) {
	total, err := decimal.NewFromString(it.TotalAmount)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s total: %w", it.ID, err)
	}
	lines := make([]domain.Line, 0, len(it.Items))
	for _, l := range it.Items {
		price, err := decimal.NewFromString(l.Price)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s price: %w", it.ID, err)
		}
		subtotal, err := decimal.NewFromString(l.Subtotal)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s subtotal: %w", it.ID, err)
		}
		lines = append(lines, domain.Line{
			ProductID: l.ProductID, Name: l.Name, Price: price,
			Quantity: l.Quantity, Image: l.Image, Subtotal: subtotal,
		})
	}
	return domain.Order{
		ID:              it.ID,
		UserID:          it.UserID,
		Items:           lines,
		TotalAmount:     total,
		Status:          domain.Status(it.Status),
		PaymentStatus:   domain.PaymentStatus(it.PaymentStatus),
		ShippingAddress: it.ShippingAddress,
		CreatedAt:       it.CreatedAt.UTC(),
		UpdatedAt:       it.UpdatedAt.UTC(),
	}, nil
}

func (r *Repository) eventPut(o domain.Order, ev application.Event) (*types.Put, error) {
	av, err := attributevalue.MarshalMap(eventItem{
		PK:          "ORDER#" + o.ID,
		SK:          "EVENT#" + o.UpdatedAt.UTC().Format(sortTime) + "#" + ev.Type,
		Type:        ev.Type,
		Payload:     string(ev.Payload),
		Traceparent: ev.Traceparent,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &types.Put{TableName: aws.String(r.table), Item: av}, nil
}

func (r *Repository) Save(ctx context.Context, o domain.Order, ev application.Event) error {
	av, err := attributevalue.MarshalMap(toItem(o))
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	writes := []types.TransactWriteItem{{
		Put: &types.Put{
			TableName:           aws.String(r.table),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		},
	}}
	if ev.Type != "" {
		put, err := r.eventPut(o, ev)
		if err != nil {
			return err
		}
		writes = append(writes, types.TransactWriteItem{Put: put})
	}
	if _, err := r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return nil
}

func (r *Repository) Update(ctx context.Context, o domain.Order, ev application.Event) error {
	writes := []types.TransactWriteItem{{
		Update: &types.Update{
			TableName:           aws.String(r.table),
			Key:                 orderKey(o.ID),
			UpdateExpression:    aws.String("SET #status = :status, paymentStatus = :payment, updatedAt = :updated"),
			ConditionExpression: aws.String("userId = :user"),
			ExpressionAttributeNames: map[string]string{
				"#status": "status",
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":status":  &types.AttributeValueMemberS{Value: string(o.Status)},
				":payment": &types.AttributeValueMemberS{Value: string(o.PaymentStatus)},
				":updated": &types.AttributeValueMemberS{Value: o.UpdatedAt.UTC().Format(time.RFC3339Nano)},
				":user":    &types.AttributeValueMemberS{Value: o.UserID},
			},
		},
	}}
	if ev.Type != "" {
		put, err := r.eventPut(o, ev)
		if err != nil {
			return err
		}
		writes = append(writes, types.TransactWriteItem{Put: put})
	}
	_, err := r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: writes})
	var canceled *types.TransactionCanceledException
	if errors.As(err, &canceled) && len(canceled.CancellationReasons) > 0 &&
		aws.ToString(canceled.CancellationReasons[0].Code) == "ConditionalCheckFailed" {
		return domain.ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.ID, err)
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, orderID, userID string) (domain.Order, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            orderKey(orderID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(out.Item) == 0 {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	var it orderItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return domain.Order{}, err
	}
	if it.UserID != userID {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return it.toDomain()
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	p := dynamodb.NewQueryPaginator(r.api, &dynamodb.QueryInput{
		TableName:              aws.String(r.table),
		IndexName:              aws.String("GSI1"),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: "USER#" + userID},
		},
		ScanIndexForward: aws.Bool(false),
	})

	orders := make([]domain.Order, 0)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list orders for %s: %w", userID, err)
		}
		var items []orderItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, err
		}
		for _, it := range items {
			o, err := it.toDomain()
			if err != nil {
				return nil, err
			}
			orders = append(orders, o)
		}
	}
	return orders, nil
}
