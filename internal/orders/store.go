package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-storefront-orderflow/internal/aws"
	"github.com/imrishuroy/go-storefront-orderflow/internal/idempotency"
)

// UserIndex is the orders table GSI keyed by user_id and sorted by created_at.
const UserIndex = "user_id-created_at-index"

// DynamoDB caps a transaction at 100 actions.
const maxTransactItems = 100

var (
	ErrNotFound        = errors.New("order not found")
	ErrVersionConflict = errors.New("order was modified by someone else")
	ErrTooManyItems    = errors.New("too many line items for a single write")

	// ErrStatusMismatch is returned by UpdateStatus when the stored status is not the expected one.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")

	// ErrDuplicateSubmission matches a *DuplicateSubmissionError with errors.Is.
	ErrDuplicateSubmission = errors.New("order already submitted")
)

// DuplicateSubmissionError reports that the idempotency key was already used
// to create OrderID.
type DuplicateSubmissionError struct {
	Key     string
	OrderID string
}

func (e *DuplicateSubmissionError) Error() string {
	return fmt.Sprintf("idempotency key %s already created order %s", e.Key, e.OrderID)
}

func (e *DuplicateSubmissionError) Is(target error) bool { return target == ErrDuplicateSubmission }

// IsThrottled reports whether err is a DynamoDB capacity or contention
// error worth retrying later.
func IsThrottled(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "ProvisionedThroughputExceededException", "ThrottlingException",
		"RequestLimitExceeded", "TransactionConflictException":
		return true
	}
	return false
}

// Store encapsulates operations on the orders and order_items tables.
type Store struct {
	client      aws.DynamoDBAPI
	ordersTable string
	itemsTable  string
	idempotency *idempotency.Store
	nowFunc     func() time.Time
}

// NewStore creates a new orders Store. idemp may be nil, in which case
// idempotency keys passed to CreateOrder are ignored.
func NewStore(client aws.DynamoDBAPI, ordersTable, itemsTable string, idemp *idempotency.Store) *Store {
	return &Store{
		client:      client,
		ordersTable: ordersTable,
		itemsTable:  itemsTable,
		idempotency: idemp,
		nowFunc:     time.Now,
	}
}

// CreateOrder writes the order row, its item rows and, when key is set, the
// idempotency record in one TransactWriteItems call: either all of them
// exist afterwards or none do.
//
// Reusing a key returns a *DuplicateSubmissionError naming the order the key
// created first.
func (s *Store) CreateOrder(ctx context.Context, key string, o Order) error {
	now := s.nowFunc()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	if o.Version == 0 {
		o.Version = 1
	}

	writes := make([]types.TransactWriteItem, 0, len(o.Items)+2)
	if key != "" && s.idempotency != nil {
		put, err := s.idempotency.TransactPut(key, o.ID)
		if err != nil {
			return err
		}
		writes = append(writes, put)
	}

	orderMap, err := attributevalue.MarshalMap(toOrderRecord(o))
	if err != nil {
		return fmt.Errorf("marshal order item: %w", err)
	}
	writes = append(writes, types.TransactWriteItem{
		Put: &types.Put{
			TableName:           &s.ordersTable,
			Item:                orderMap,
			ConditionExpression: awsString("attribute_not_exists(order_id)"),
		},
	})

	itemPuts, err := s.itemPuts(o.ID, o.Items)
	if err != nil {
		return err
	}
	writes = append(writes, itemPuts...)
	if len(writes) > maxTransactItems {
		return fmt.Errorf("%w: %d items", ErrTooManyItems, len(o.Items))
	}

	_, err = s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: writes})
	if err != nil {
		var tce *types.TransactionCanceledException
		if errors.As(err, &tce) && key != "" && s.idempotency != nil {
			rec, getErr := s.idempotency.Get(ctx, key)
			if getErr == nil && rec != nil {
				return &DuplicateSubmissionError{Key: key, OrderID: rec.OrderID}
			}
		}
		return fmt.Errorf("transact write order %s: %w", o.ID, err)
	}
	return nil
}

// Get fetches an order and its items by order_id. Returns (nil, nil) if not found.
func (s *Store) Get(ctx context.Context, orderID string) (*Order, error) {
	out, err := s.client.GetItem(ctx, &dyn.GetItemInput{
		TableName:      &s.ordersTable,
		Key:            orderKey(orderID),
		ConsistentRead: boolPtr(true),
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return s.hydrate(ctx, out.Item)
}

// List returns orders newest first. With filter.UserID set it reads the
// user index, otherwise it scans the whole table.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Order, error) {
	var raw []map[string]types.AttributeValue
	if filter.UserID != "" {
		input := &dyn.QueryInput{
			TableName:              &s.ordersTable,
			IndexName:              awsString(UserIndex),
			KeyConditionExpression: awsString("user_id = :uid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":uid": &types.AttributeValueMemberS{Value: filter.UserID},
			},
			ScanIndexForward: boolPtr(false),
		}
		for {
			out, err := s.client.Query(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("query orders for user %s: %w", filter.UserID, err)
			}
			raw = append(raw, out.Items...)
			if len(out.LastEvaluatedKey) == 0 {
				break
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	} else {
		input := &dyn.ScanInput{TableName: &s.ordersTable}
		for {
			out, err := s.client.Scan(ctx, input)
			if err != nil {
				return nil, fmt.Errorf("scan orders: %w", err)
			}
			raw = append(raw, out.Items...)
			if len(out.LastEvaluatedKey) == 0 {
				break
			}
			input.ExclusiveStartKey = out.LastEvaluatedKey
		}
	}

	result := make([]Order, 0, len(raw))
	for _, item := range raw {
		o, err := s.hydrate(ctx, item)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Update applies p to the order row and returns the updated order.
func (s *Store) Update(ctx context.Context, orderID string, p Patch) (*Order, error) {
	b := newUpdate(s.nowFunc())
	if err := b.patch(p); err != nil {
		return nil, err
	}

	out, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                           &s.ordersTable,
		Key:                                 orderKey(orderID),
		UpdateExpression:                    b.expression(),
		ConditionExpression:                 b.condition(p.ExpectedVersion),
		ExpressionAttributeNames:            b.names,
		ExpressionAttributeValues:           b.values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, orderID)
			}
			return nil, fmt.Errorf("%w: %s", ErrVersionConflict, orderID)
		}
		return nil, fmt.Errorf("update item: %w", err)
	}
	return s.hydrate(ctx, out.Attributes)
}

// UpdateStatus conditionally updates the order status from expected -> newStatus.
// Returns nil on success, ErrStatusMismatch if condition failed.
func (s *Store) UpdateStatus(ctx context.Context, orderID string, expected, newStatus Status) error {
	b := newUpdate(s.nowFunc())
	b.set("status", &types.AttributeValueMemberS{Value: string(newStatus)})
	b.values[":expected"] = &types.AttributeValueMemberS{Value: string(expected)}

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                 &s.ordersTable,
		Key:                       orderKey(orderID),
		UpdateExpression:          b.expression(),
		ConditionExpression:       awsString("#status = :expected"),
		ExpressionAttributeNames:  b.names,
		ExpressionAttributeValues: b.values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrStatusMismatch
		}
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

// AssignTracking sets the tracking number and carrier unless the order already
// has a tracking number. It reports whether the assignment happened.
func (s *Store) AssignTracking(ctx context.Context, orderID, number, carrier string) (bool, error) {
	b := newUpdate(s.nowFunc())
	b.set("tracking_number", &types.AttributeValueMemberS{Value: number})
	b.set("carrier", &types.AttributeValueMemberS{Value: carrier})

	_, err := s.client.UpdateItem(ctx, &dyn.UpdateItemInput{
		TableName:                           &s.ordersTable,
		Key:                                 orderKey(orderID),
		UpdateExpression:                    b.expression(),
		ConditionExpression:                 awsString("attribute_exists(order_id) AND attribute_not_exists(#tracking_number)"),
		ExpressionAttributeNames:            b.names,
		ExpressionAttributeValues:           b.values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return false, fmt.Errorf("%w: %s", ErrNotFound, orderID)
			}
			return false, nil
		}
		return false, fmt.Errorf("update item: %w", err)
	}
	return true, nil
}

// ReplaceItems swaps the whole line-item set of an order for items, sets the
// total to their sum and applies p, all in one transaction.
func (s *Store) ReplaceItems(ctx context.Context, orderID string, items []OrderItem, p Patch) (*Order, error) {
	old, err := s.items(ctx, orderID)
	if err != nil {
		return nil, err
	}

	b := newUpdate(s.nowFunc())
	b.set("total_amount", &types.AttributeValueMemberS{Value: SumItems(items).String()})
	b.set("item_count", &types.AttributeValueMemberN{Value: strconv.Itoa(len(items))})
	if err := b.patch(p); err != nil {
		return nil, err
	}

	writes := make([]types.TransactWriteItem, 0, len(old)+len(items)+1)
	writes = append(writes, types.TransactWriteItem{
		Update: &types.Update{
			TableName:                 &s.ordersTable,
			Key:                       orderKey(orderID),
			UpdateExpression:          b.expression(),
			ConditionExpression:       b.condition(p.ExpectedVersion),
			ExpressionAttributeNames:  b.names,
			ExpressionAttributeValues: b.values,
		},
	})
	for _, it := range old {
		writes = append(writes, types.TransactWriteItem{
			Delete: &types.Delete{TableName: &s.itemsTable, Key: itemKey(orderID, it.ID)},
		})
	}

	fresh := make([]OrderItem, len(items))
	for i, it := range items {
		it.ID = uuid.NewString()
		fresh[i] = it
	}
	puts, err := s.itemPuts(orderID, fresh)
	if err != nil {
		return nil, err
	}
	writes = append(writes, puts...)
	if len(writes) > maxTransactItems {
		return nil, fmt.Errorf("%w: %d items", ErrTooManyItems, len(items))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return nil, s.explainCanceled(ctx, orderID, p.ExpectedVersion, err)
	}
	return s.Get(ctx, orderID)
}

// Delete removes the order row and all of its item rows in one transaction.
func (s *Store) Delete(ctx context.Context, orderID string) error {
	old, err := s.items(ctx, orderID)
	if err != nil {
		return err
	}

	writes := make([]types.TransactWriteItem, 0, len(old)+1)
	writes = append(writes, types.TransactWriteItem{
		Delete: &types.Delete{
			TableName:           &s.ordersTable,
			Key:                 orderKey(orderID),
			ConditionExpression: awsString("attribute_exists(order_id)"),
		},
	})
	for _, it := range old {
		writes = append(writes, types.TransactWriteItem{
			Delete: &types.Delete{TableName: &s.itemsTable, Key: itemKey(orderID, it.ID)},
		})
	}
	if len(writes) > maxTransactItems {
		return fmt.Errorf("%w: %d items", ErrTooManyItems, len(old))
	}

	if _, err := s.client.TransactWriteItems(ctx, &dyn.TransactWriteItemsInput{TransactItems: writes}); err != nil {
		return s.explainCanceled(ctx, orderID, 0, err)
	}
	return nil
}

// explainCanceled maps a failed transaction on an existing order to
// ErrNotFound or ErrVersionConflict when the stored row explains it.
func (s *Store) explainCanceled(ctx context.Context, orderID string, expectedVersion int64, err error) error {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) {
		return fmt.Errorf("transact write order %s: %w", orderID, err)
	}
	cur, getErr := s.Get(ctx, orderID)
	switch {
	case getErr != nil:
		return fmt.Errorf("transact write order %s: %w", orderID, err)
	case cur == nil:
		return fmt.Errorf("%w: %s", ErrNotFound, orderID)
	case expectedVersion != 0 && cur.Version != expectedVersion:
		return fmt.Errorf("%w: %s", ErrVersionConflict, orderID)
	}
	return fmt.Errorf("transact write order %s: %w", orderID, err)
}

func (s *Store) itemPuts(orderID string, items []OrderItem) ([]types.TransactWriteItem, error) {
	puts := make([]types.TransactWriteItem, 0, len(items))
	for i, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		m, err := attributevalue.MarshalMap(toItemRecord(orderID, i, it))
		if err != nil {
			return nil, fmt.Errorf("marshal order line: %w", err)
		}
		puts = append(puts, types.TransactWriteItem{
			Put: &types.Put{TableName: &s.itemsTable, Item: m},
		})
	}
	return puts, nil
}

// items loads the item rows of an order in position order.
func (s *Store) items(ctx context.Context, orderID string) ([]OrderItem, error) {
	input := &dyn.QueryInput{
		TableName:              &s.itemsTable,
		KeyConditionExpression: awsString("order_id = :id"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberS{Value: orderID},
		},
		ConsistentRead: boolPtr(true),
	}

	var recs []itemRecord
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("query items for order %s: %w", orderID, err)
		}
		var page []itemRecord
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("unmarshal order lines: %w", err)
		}
		recs = append(recs, page...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Position < recs[j].Position })

	items := make([]OrderItem, 0, len(recs))
	for _, r := range recs {
		it, err := r.toItem()
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (s *Store) hydrate(ctx context.Context, item map[string]types.AttributeValue) (*Order, error) {
	var rec orderRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal order: %w", err)
	}
	o, err := rec.toOrder()
	if err != nil {
		return nil, err
	}
	if o.Items, err = s.items(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

// updateBuilder assembles a SET expression that always bumps version and updated_at.
type updateBuilder struct {
	sets   []string
	names  map[string]string
	values map[string]types.AttributeValue
}

func newUpdate(now time.Time) *updateBuilder {
	b := &updateBuilder{
		sets:   []string{"#version = #version + :one"},
		names:  map[string]string{"#version": "version"},
		values: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
	}
	b.set("updated_at", &types.AttributeValueMemberS{Value: formatTime(now)})
	return b
}

func (b *updateBuilder) set(attr string, v types.AttributeValue) {
	b.names["#"+attr] = attr
	b.values[":"+attr] = v
	b.sets = append(b.sets, fmt.Sprintf("#%s = :%s", attr, attr))
}

func (b *updateBuilder) patch(p Patch) error {
	if p.Status != nil {
		b.set("status", &types.AttributeValueMemberS{Value: string(*p.Status)})
	}
	if p.PaymentStatus != nil {
		b.set("payment_status", &types.AttributeValueMemberS{Value: string(*p.PaymentStatus)})
	}
	if p.ShippingAddress != nil {
		av, err := attributevalue.Marshal(*p.ShippingAddress)
		if err != nil {
			return fmt.Errorf("marshal shipping address: %w", err)
		}
		b.set("shipping_address", av)
	}
	if p.TrackingNumber != nil {
		b.set("tracking_number", &types.AttributeValueMemberS{Value: *p.TrackingNumber})
	}
	if p.Carrier != nil {
		b.set("carrier", &types.AttributeValueMemberS{Value: *p.Carrier})
	}
	return nil
}

func (b *updateBuilder) expression() *string {
	return awsString("SET " + strings.Join(b.sets, ", "))
}

// condition requires the order to exist and, when expected is non-zero, to
// still carry that version.
func (b *updateBuilder) condition(expected int64) *string {
	cond := "attribute_exists(order_id)"
	if expected != 0 {
		b.values[":expected_version"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expected, 10)}
		cond += " AND #version = :expected_version"
	}
	return &cond
}

func orderKey(orderID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
	}
}

func itemKey(orderID, itemID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"order_id": &types.AttributeValueMemberS{Value: orderID},
		"item_id":  &types.AttributeValueMemberS{Value: itemID},
	}
}

func awsString(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
