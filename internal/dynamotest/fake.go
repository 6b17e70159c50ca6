// Package dynamotest provides an in-memory DynamoDB fake for store tests.
//
// It understands the expression shapes the stores in this module generate:
// conjunctions of attribute_exists/attribute_not_exists/equality conditions,
// SET updates with plain values or "x + :n" counters, and single equality key
// conditions for Query. It is not a general DynamoDB emulator.
package dynamotest

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	dyn "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type keySchema struct {
	pk, sk string
}

// Fake implements the module's DynamoDBAPI interface in memory.
type Fake struct {
	mu      sync.Mutex
	tables  map[string]map[string]map[string]types.AttributeValue
	schemas map[string]keySchema
	indexes map[string]map[string]keySchema
	fail    map[string]error
	calls   map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		tables:  map[string]map[string]map[string]types.AttributeValue{},
		schemas: map[string]keySchema{},
		indexes: map[string]map[string]keySchema{},
		fail:    map[string]error{},
		calls:   map[string]int{},
	}
}

// CreateTable registers a table keyed by pk and optional sort key sk.
func (f *Fake) CreateTable(name, pk, sk string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemas[name] = keySchema{pk: pk, sk: sk}
	f.tables[name] = map[string]map[string]types.AttributeValue{}
	return f
}

// CreateIndex registers a global secondary index on table.
func (f *Fake) CreateIndex(table, index, pk, sk string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexes[table] == nil {
		f.indexes[table] = map[string]keySchema{}
	}
	f.indexes[table][index] = keySchema{pk: pk, sk: sk}
	return f
}

// FailOn makes every call to op return err until cleared with a nil err.
func (f *Fake) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, op)
		return
	}
	f.fail[op] = err
}

// Calls returns how many times op was invoked.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Len returns the number of items stored in table.
func (f *Fake) Len(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

// Items returns copies of every item in table, ordered by key.
func (f *Fake) Items(table string) []map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sortedItems(table)
}

// Put stores item directly, bypassing conditions.
func (f *Fake) Put(table string, item map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k, err := f.keyOf(table, item)
	if err != nil {
		panic(err)
	}
	f.tables[table][k] = clone(item)
}

func (f *Fake) begin(op string) error {
	f.calls[op]++
	return f.fail[op]
}

func (f *Fake) PutItem(ctx context.Context, in *dyn.PutItemInput, optFns ...func(*dyn.Options)) (*dyn.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	table := *in.TableName
	k, err := f.keyOf(table, in.Item)
	if err != nil {
		return nil, err
	}
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, f.tables[table][k])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	f.tables[table][k] = clone(in.Item)
	return &dyn.PutItemOutput{}, nil
}

func (f *Fake) GetItem(ctx context.Context, in *dyn.GetItemInput, optFns ...func(*dyn.Options)) (*dyn.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	k, err := f.keyOf(*in.TableName, in.Key)
	if err != nil {
		return nil, err
	}
	item, ok := f.tables[*in.TableName][k]
	if !ok {
		return &dyn.GetItemOutput{}, nil
	}
	return &dyn.GetItemOutput{Item: clone(item)}, nil
}

func (f *Fake) UpdateItem(ctx context.Context, in *dyn.UpdateItemInput, optFns ...func(*dyn.Options)) (*dyn.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	item, err := f.update(*in.TableName, in.Key, in.UpdateExpression, in.ConditionExpression,
		in.ExpressionAttributeNames, in.ExpressionAttributeValues, in.ReturnValuesOnConditionCheckFailure)
	if err != nil {
		return nil, err
	}
	return &dyn.UpdateItemOutput{Attributes: clone(item)}, nil
}

func (f *Fake) DeleteItem(ctx context.Context, in *dyn.DeleteItemInput, optFns ...func(*dyn.Options)) (*dyn.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	table := *in.TableName
	k, err := f.keyOf(table, in.Key)
	if err != nil {
		return nil, err
	}
	old := f.tables[table][k]
	ok, err := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
	}
	delete(f.tables[table], k)
	return &dyn.DeleteItemOutput{Attributes: clone(old)}, nil
}

func (f *Fake) Query(ctx context.Context, in *dyn.QueryInput, optFns ...func(*dyn.Options)) (*dyn.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	table := *in.TableName
	schema := f.schemas[table]
	if in.IndexName != nil {
		idx, ok := f.indexes[table][*in.IndexName]
		if !ok {
			return nil, fmt.Errorf("dynamotest: unknown index %s on %s", *in.IndexName, table)
		}
		schema = idx
	}
	if in.KeyConditionExpression == nil {
		return nil, errors.New("dynamotest: query without key condition")
	}
	parts := strings.SplitN(*in.KeyConditionExpression, " = ", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("dynamotest: unsupported key condition %q", *in.KeyConditionExpression)
	}
	attr := resolveName(strings.TrimSpace(parts[0]), in.ExpressionAttributeNames)
	if attr != schema.pk {
		return nil, fmt.Errorf("dynamotest: key condition on %s, want %s", attr, schema.pk)
	}
	want, ok := in.ExpressionAttributeValues[strings.TrimSpace(parts[1])]
	if !ok {
		return nil, fmt.Errorf("dynamotest: missing value %s", parts[1])
	}

	var out []map[string]types.AttributeValue
	for _, item := range f.sortedItems(table) {
		v, ok := item[attr]
		if ok && avString(v) == avString(want) {
			out = append(out, item)
		}
	}
	if schema.sk != "" {
		sort.SliceStable(out, func(i, j int) bool {
			return lessAV(out[i][schema.sk], out[j][schema.sk])
		})
	}
	if in.ScanIndexForward != nil && !*in.ScanIndexForward {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return &dyn.QueryOutput{Items: out, Count: int32(len(out))}, nil
}

func (f *Fake) Scan(ctx context.Context, in *dyn.ScanInput, optFns ...func(*dyn.Options)) (*dyn.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	items := f.sortedItems(*in.TableName)
	return &dyn.ScanOutput{Items: items, Count: int32(len(items))}, nil
}

func (f *Fake) BatchGetItem(ctx context.Context, in *dyn.BatchGetItemInput, optFns ...func(*dyn.Options)) (*dyn.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BatchGetItem"); err != nil {
		return nil, err
	}
	out := &dyn.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, ka := range in.RequestItems {
		for _, key := range ka.Keys {
			k, err := f.keyOf(table, key)
			if err != nil {
				return nil, err
			}
			if item, ok := f.tables[table][k]; ok {
				out.Responses[table] = append(out.Responses[table], clone(item))
			}
		}
	}
	return out, nil
}

func (f *Fake) TransactWriteItems(ctx context.Context, in *dyn.TransactWriteItemsInput, optFns ...func(*dyn.Options)) (*dyn.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	reasons := make([]types.CancellationReason, len(in.TransactItems))
	canceled := false
	for i, it := range in.TransactItems {
		table, key, cond, names, values, err := f.describe(it)
		if err != nil {
			return nil, err
		}
		k, err := f.keyOf(table, key)
		if err != nil {
			return nil, err
		}
		if seen[table+"/"+k] {
			return nil, errors.New("dynamotest: transaction targets the same item more than once")
		}
		seen[table+"/"+k] = true

		ok, err := evalCondition(cond, names, values, f.tables[table][k])
		if err != nil {
			return nil, err
		}
		reasons[i] = types.CancellationReason{Code: strPtr("None")}
		if !ok {
			reasons[i] = types.CancellationReason{Code: strPtr("ConditionalCheckFailed")}
			canceled = true
		}
	}
	if canceled {
		return nil, &types.TransactionCanceledException{
			Message:             strPtr("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}

	for _, it := range in.TransactItems {
		switch {
		case it.Put != nil:
			k, _ := f.keyOf(*it.Put.TableName, it.Put.Item)
			f.tables[*it.Put.TableName][k] = clone(it.Put.Item)
		case it.Delete != nil:
			k, _ := f.keyOf(*it.Delete.TableName, it.Delete.Key)
			delete(f.tables[*it.Delete.TableName], k)
		case it.Update != nil:
			u := it.Update
			if _, err := f.update(*u.TableName, u.Key, u.UpdateExpression, nil, u.ExpressionAttributeNames, u.ExpressionAttributeValues, ""); err != nil {
				return nil, err
			}
		}
	}
	return &dyn.TransactWriteItemsOutput{}, nil
}

func (f *Fake) describe(it types.TransactWriteItem) (string, map[string]types.AttributeValue, *string, map[string]string, map[string]types.AttributeValue, error) {
	switch {
	case it.Put != nil:
		p := it.Put
		return *p.TableName, p.Item, p.ConditionExpression, p.ExpressionAttributeNames, p.ExpressionAttributeValues, nil
	case it.Delete != nil:
		d := it.Delete
		return *d.TableName, d.Key, d.ConditionExpression, d.ExpressionAttributeNames, d.ExpressionAttributeValues, nil
	case it.Update != nil:
		u := it.Update
		return *u.TableName, u.Key, u.ConditionExpression, u.ExpressionAttributeNames, u.ExpressionAttributeValues, nil
	case it.ConditionCheck != nil:
		c := it.ConditionCheck
		return *c.TableName, c.Key, c.ConditionExpression, c.ExpressionAttributeNames, c.ExpressionAttributeValues, nil
	}
	return "", nil, nil, nil, nil, errors.New("dynamotest: empty transact item")
}

func (f *Fake) update(table string, key map[string]types.AttributeValue, updateExpr, condExpr *string,
	names map[string]string, values map[string]types.AttributeValue, onFail types.ReturnValuesOnConditionCheckFailure) (map[string]types.AttributeValue, error) {
	k, err := f.keyOf(table, key)
	if err != nil {
		return nil, err
	}
	old, exists := f.tables[table][k]
	ok, err := evalCondition(condExpr, names, values, old)
	if err != nil {
		return nil, err
	}
	if !ok {
		e := &types.ConditionalCheckFailedException{Message: strPtr("The conditional request failed")}
		if onFail == types.ReturnValuesOnConditionCheckFailureAllOld && exists {
			e.Item = clone(old)
		}
		return nil, e
	}

	item := clone(old)
	if item == nil {
		item = clone(key)
	}
	if updateExpr != nil {
		if err := applyUpdate(*updateExpr, names, values, item); err != nil {
			return nil, err
		}
	}
	f.tables[table][k] = item
	return item, nil
}

func (f *Fake) keyOf(table string, item map[string]types.AttributeValue) (string, error) {
	schema, ok := f.schemas[table]
	if !ok {
		return "", fmt.Errorf("dynamotest: unknown table %q", table)
	}
	pk, ok := item[schema.pk]
	if !ok {
		return "", fmt.Errorf("dynamotest: %s: missing key attribute %s", table, schema.pk)
	}
	k := avString(pk)
	if schema.sk != "" {
		sk, ok := item[schema.sk]
		if !ok {
			return "", fmt.Errorf("dynamotest: %s: missing sort key %s", table, schema.sk)
		}
		k += "|" + avString(sk)
	}
	return k, nil
}

func (f *Fake) sortedItems(table string) []map[string]types.AttributeValue {
	keys := make([]string, 0, len(f.tables[table]))
	for k := range f.tables[table] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, clone(f.tables[table][k]))
	}
	return out
}

var (
	existsRe = regexp.MustCompile(`^attribute_(not_)?exists\((\S+)\)$`)
	addRe    = regexp.MustCompile(`^(?:if_not_exists\((\S+), (:\w+)\)|(\S+)) \+ (:\w+)$`)
)

func evalCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if expr == nil || *expr == "" {
		return true, nil
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		if m := existsRe.FindStringSubmatch(clause); m != nil {
			_, has := item[resolveName(m[2], names)]
			if (m[1] == "") != has {
				return false, nil
			}
			continue
		}
		parts := strings.SplitN(clause, " = ", 2)
		if len(parts) != 2 {
			return false, fmt.Errorf("dynamotest: unsupported condition %q", clause)
		}
		want, ok := values[strings.TrimSpace(parts[1])]
		if !ok {
			return false, fmt.Errorf("dynamotest: missing value %s", parts[1])
		}
		got, has := item[resolveName(strings.TrimSpace(parts[0]), names)]
		if !has || avString(got) != avString(want) {
			return false, nil
		}
	}
	return true, nil
}

func applyUpdate(expr string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) error {
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("dynamotest: unsupported update %q", expr)
	}
	for _, assign := range strings.Split(strings.TrimPrefix(expr, "SET "), ", ") {
		parts := strings.SplitN(assign, " = ", 2)
		if len(parts) != 2 {
			return fmt.Errorf("dynamotest: bad assignment %q", assign)
		}
		attr := resolveName(strings.TrimSpace(parts[0]), names)
		rhs := strings.TrimSpace(parts[1])

		if m := addRe.FindStringSubmatch(rhs); m != nil {
			var base types.AttributeValue
			if m[1] != "" {
				base = item[resolveName(m[1], names)]
				if base == nil {
					base = values[m[2]]
				}
			} else {
				base = item[resolveName(m[3], names)]
			}
			a, err := avInt(base)
			if err != nil {
				return err
			}
			b, err := avInt(values[m[4]])
			if err != nil {
				return err
			}
			item[attr] = &types.AttributeValueMemberN{Value: strconv.FormatInt(a+b, 10)}
			continue
		}

		v, ok := values[rhs]
		if !ok {
			return fmt.Errorf("dynamotest: missing value %s", rhs)
		}
		item[attr] = v
	}
	return nil
}

func resolveName(name string, names map[string]string) string {
	if strings.HasPrefix(name, "#") {
		if n, ok := names[name]; ok {
			return n
		}
	}
	return name
}

func avString(v types.AttributeValue) string {
	switch t := v.(type) {
	case *types.AttributeValueMemberS:
		return t.Value
	case *types.AttributeValueMemberN:
		return t.Value
	case *types.AttributeValueMemberBOOL:
		return strconv.FormatBool(t.Value)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func avInt(v types.AttributeValue) (int64, error) {
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamotest: expected number, got %T", v)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

func lessAV(a, b types.AttributeValue) bool {
	an, aok := a.(*types.AttributeValueMemberN)
	bn, bok := b.(*types.AttributeValueMemberN)
	if aok && bok {
		x, _ := strconv.ParseFloat(an.Value, 64)
		y, _ := strconv.ParseFloat(bn.Value, 64)
		return x < y
	}
	return avString(a) < avString(b)
}

func clone(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	if item == nil {
		return nil
	}
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func strPtr(s string) *string { return &s }
