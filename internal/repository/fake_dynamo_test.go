package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeTable is an in-memory PK/SK table that understands the handful of
// expressions DynamoClient issues.
type fakeTable struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	errs            map[string]error
	pageSize        int
	unprocessedOnce int
	beforeTx        func(f *fakeTable)
	beforePut       func(f *fakeTable)

	calls map[string]int
}

func newFakeTable() *fakeTable {
	return &fakeTable{
		items: map[string]map[string]types.AttributeValue{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func itemKey(item map[string]types.AttributeValue) string {
	pk, _ := strAttr(item, "PK")
	sk, _ := strAttr(item, "SK")
	return pk + "|" + sk
}

func (f *fakeTable) put(item map[string]types.AttributeValue) {
	f.items[itemKey(item)] = item
}

func (f *fakeTable) get(pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[pk+"|"+sk]
}

func (f *fakeTable) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeTable) begin(op string) error {
	f.calls[op]++
	return f.errs[op]
}

// checkCondition evaluates cond against the current item (nil if absent).
func checkCondition(cond *string, values map[string]types.AttributeValue, current map[string]types.AttributeValue) bool {
	switch aws.ToString(cond) {
	case "":
		return true
	case condNotExists:
		return current == nil
	case condExists:
		return current != nil
	case "recordId = :rid":
		if current == nil {
			return false
		}
		got, _ := strAttr(current, "recordId")
		want, _ := strAttr(values, ":rid")
		return got == want
	case condRevision:
		if current == nil {
			return false
		}
		got, _ := optIntAttr(current, "revision")
		want, _ := intAttr(values, ":rev")
		if got == nil {
			return want == 0
		}
		return *got == want
	}
	panic(fmt.Sprintf("fakeTable: unsupported condition %q", aws.ToString(cond)))
}

func (f *fakeTable) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: f.items[itemKey(in.Key)]}, nil
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	if hook := f.beforePut; hook != nil {
		f.beforePut = nil
		f.mu.Unlock()
		hook(f)
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	if !checkCondition(in.ConditionExpression, in.ExpressionAttributeValues, f.items[itemKey(in.Item)]) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	f.put(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("DeleteItem"); err != nil {
		return nil, err
	}
	k := itemKey(in.Key)
	current := f.items[k]
	if !checkCondition(in.ConditionExpression, in.ExpressionAttributeValues, current) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	delete(f.items, k)
	out := &dynamodb.DeleteItemOutput{}
	if in.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = current
	}
	return out, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	if aws.ToString(in.KeyConditionExpression) != "PK = :pk AND begins_with(SK, :prefix)" {
		panic("fakeTable: unsupported key condition " + aws.ToString(in.KeyConditionExpression))
	}
	pk, _ := strAttr(in.ExpressionAttributeValues, ":pk")
	prefix, _ := strAttr(in.ExpressionAttributeValues, ":prefix")

	var keys []string
	for k := range f.items {
		if len(k) >= len(pk)+1+len(prefix) && k[:len(pk)+1] == pk+"|" && k[len(pk)+1:len(pk)+1+len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if in.ExclusiveStartKey != nil {
		start := itemKey(in.ExclusiveStartKey)
		i := sort.SearchStrings(keys, start)
		if i < len(keys) && keys[i] == start {
			i++
		}
		keys = keys[i:]
	}
	out := &dynamodb.QueryOutput{}
	if f.pageSize > 0 && len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		last := f.items[keys[len(keys)-1]]
		out.LastEvaluatedKey = map[string]types.AttributeValue{"PK": last["PK"], "SK": last["SK"]}
	}
	for _, k := range keys {
		out.Items = append(out.Items, f.items[k])
	}
	return out, nil
}

func (f *fakeTable) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin("BatchWriteItem"); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, reqs := range in.RequestItems {
		if len(reqs) > batchWriteLimit {
			return nil, fmt.Errorf("fakeTable: batch of %d exceeds limit", len(reqs))
		}
		for _, r := range reqs {
			if f.unprocessedOnce > 0 {
				f.unprocessedOnce--
				out.UnprocessedItems[table] = append(out.UnprocessedItems[table], r)
				continue
			}
			delete(f.items, itemKey(r.DeleteRequest.Key))
		}
	}
	return out, nil
}

func (f *fakeTable) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	if hook := f.beforeTx; hook != nil {
		f.beforeTx = nil
		f.mu.Unlock()
		hook(f)
		f.mu.Lock()
	}
	defer f.mu.Unlock()
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	failed := false
	for i, ti := range in.TransactItems {
		reasons[i].Code = aws.String("None")
		if ti.Put == nil {
			panic("fakeTable: only Put is supported in transactions")
		}
		if !checkCondition(ti.Put.ConditionExpression, ti.Put.ExpressionAttributeValues, f.items[itemKey(ti.Put.Item)]) {
			reasons[i].Code = aws.String("ConditionalCheckFailed")
			failed = true
		}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for _, ti := range in.TransactItems {
		f.put(ti.Put.Item)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
