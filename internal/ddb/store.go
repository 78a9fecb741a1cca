// Package ddb stores the portal's keyed tree in a single DynamoDB table.
//
// Every (collection, document) pair is one item: PK is the collection
// segment, SK the document key, and doc holds the document subtree.
// Reads below the document level descend into doc; writes below it are
// optimistic read-modify-write cycles guarded by the version attribute.
package ddb

import (
	"context"
	"errors"
	"fmt"

	"github.com/kylejryan/claims-agent-portal/internal/rtdb"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// maxWriteAttempts bounds retries after a lost optimistic-lock race.
const maxWriteAttempts = 5

// ErrConflict is returned when a write keeps losing to concurrent writers.
var ErrConflict = errors.New("ddb: write conflict")

// API is the subset of the DynamoDB client the store uses.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Store implements rtdb.Store on top of a DynamoDB table.
type Store struct {
	DB    API
	Table string
}

// item is the stored shape of one document.
type item struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Doc     any    `dynamodbav:"doc"`
	Version int64  `dynamodbav:"version"`
}

var _ rtdb.Store = (*Store)(nil)

// Get reads a collection, a document, or a node inside a document.
func (s *Store) Get(ctx context.Context, path string) (rtdb.Snapshot, error) {
	segs, err := rtdb.Split(path)
	if err != nil {
		return rtdb.Snapshot{}, err
	}
	switch len(segs) {
	case 0:
		return rtdb.Snapshot{}, fmt.Errorf("%w: reading the root needs a table scan", rtdb.ErrInvalidPath)
	case 1:
		docs, err := s.queryCollection(ctx, segs[0], nil)
		if err != nil {
			return rtdb.Snapshot{}, err
		}
		return collectionSnapshot(segs[0], docs), nil
	default:
		it, found, err := s.load(ctx, segs[0], segs[1])
		if err != nil {
			return rtdb.Snapshot{}, err
		}
		if !found {
			return rtdb.NewSnapshot(segs[len(segs)-1], nil), nil
		}
		snap := rtdb.NewSnapshot(segs[1], it.Doc)
		if len(segs) == 2 {
			return snap, nil
		}
		return snap.Child(rtdb.Join(segs[2:]...)), nil
	}
}

// Set writes value at path. Collection-level writes replace every document in the collection.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	segs, err := rtdb.Split(path)
	if err != nil {
		return err
	}
	v, err := rtdb.Normalize(value)
	if err != nil {
		return err
	}
	switch len(segs) {
	case 0:
		return fmt.Errorf("%w: cannot set root", rtdb.ErrInvalidPath)
	case 1:
		return s.replaceCollection(ctx, segs[0], v)
	default:
		return s.mutate(ctx, segs[0], segs[1], func(doc any) any {
			return rtdb.Assign(doc, segs[2:], v)
		})
	}
}

// QueryByField filters the documents of a top-level collection on doc.<field>.
// Nested collections are read whole and filtered in memory.
func (s *Store) QueryByField(ctx context.Context, collection, field string, equals any) (rtdb.Snapshot, error) {
	segs, err := rtdb.Split(collection)
	if err != nil {
		return rtdb.Snapshot{}, err
	}
	if len(segs) != 1 {
		return s.filterNested(ctx, collection, field, equals)
	}
	want, err := rtdb.Normalize(equals)
	if err != nil {
		return rtdb.Snapshot{}, err
	}
	av, err := attributevalue.Marshal(want)
	if err != nil {
		return rtdb.Snapshot{}, fmt.Errorf("ddb: marshal query value: %w", err)
	}
	docs, err := s.queryCollection(ctx, segs[0], &filter{field: field, value: av})
	if err != nil {
		return rtdb.Snapshot{}, err
	}
	return collectionSnapshot(segs[0], docs), nil
}

func (s *Store) filterNested(ctx context.Context, collection, field string, equals any) (rtdb.Snapshot, error) {
	snap, err := s.Get(ctx, collection)
	if err != nil {
		return rtdb.Snapshot{}, err
	}
	matches := map[string]any{}
	for _, child := range snap.Children() {
		if fv := child.Child(field); fv.Exists() && rtdb.Equal(fv.Value(), equals) {
			matches[child.Key()] = child.Value()
		}
	}
	if len(matches) == 0 {
		return rtdb.NewSnapshot(snap.Key(), nil), nil
	}
	return rtdb.NewSnapshot(snap.Key(), matches), nil
}

type filter struct {
	field string
	value types.AttributeValue
}

func (s *Store) queryCollection(ctx context.Context, pk string, f *filter) (map[string]any, error) {
	in := &dynamodb.QueryInput{
		TableName:                 &s.Table,
		KeyConditionExpression:    awsStr("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": &types.AttributeValueMemberS{Value: pk}},
	}
	if f != nil {
		in.FilterExpression = awsStr("#d.#f = :v")
		in.ExpressionAttributeNames = map[string]string{"#d": "doc", "#f": f.field}
		in.ExpressionAttributeValues[":v"] = f.value
	}

	docs := map[string]any{}
	for {
		out, err := s.DB.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("ddb: query %s: %w", pk, err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &items); err != nil {
			return nil, fmt.Errorf("ddb: unmarshal %s: %w", pk, err)
		}
		for _, it := range items {
			if it.Doc != nil {
				docs[it.SK] = it.Doc
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return docs, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *Store) load(ctx context.Context, pk, sk string) (item, bool, error) {
	out, err := s.DB.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      &s.Table,
		Key:            keyOf(pk, sk),
		ConsistentRead: awsBool(true),
	})
	if err != nil {
		return item{}, false, fmt.Errorf("ddb: get %s/%s: %w", pk, sk, err)
	}
	if len(out.Item) == 0 {
		return item{}, false, nil
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return item{}, false, fmt.Errorf("ddb: unmarshal %s/%s: %w", pk, sk, err)
	}
	return it, true, nil
}

// mutate applies fn to the current document and writes the result,
// retrying when another writer bumped the version in between.
func (s *Store) mutate(ctx context.Context, pk, sk string, fn func(doc any) any) error {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		cur, found, err := s.load(ctx, pk, sk)
		if err != nil {
			return err
		}
		next := fn(cur.Doc)

		if next == nil {
			if !found {
				return nil
			}
			err = s.deleteItem(ctx, pk, sk, cur.Version)
		} else {
			err = s.putItem(ctx, item{PK: pk, SK: sk, Doc: next, Version: cur.Version + 1}, found, cur.Version)
		}
		if err == nil {
			return nil
		}
		var ccf *types.ConditionalCheckFailedException
		if !errors.As(err, &ccf) {
			return err
		}
	}
	return fmt.Errorf("%w: %s/%s", ErrConflict, pk, sk)
}

func (s *Store) putItem(ctx context.Context, it item, exists bool, prevVersion int64) error {
	av, err := attributevalue.MarshalMap(it)
	if err != nil {
		return fmt.Errorf("ddb: marshal %s/%s: %w", it.PK, it.SK, err)
	}
	in := &dynamodb.PutItemInput{TableName: &s.Table, Item: av}
	if exists {
		in.ConditionExpression = awsStr("version = :v")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":v": versionAV(prevVersion)}
	} else {
		in.ConditionExpression = awsStr("attribute_not_exists(PK) AND attribute_not_exists(SK)")
	}
	_, err = s.DB.PutItem(ctx, in)
	return err
}

func (s *Store) deleteItem(ctx context.Context, pk, sk string, version int64) error {
	_, err := s.DB.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:                 &s.Table,
		Key:                       keyOf(pk, sk),
		ConditionExpression:       awsStr("version = :v"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":v": versionAV(version)},
	})
	return err
}

func (s *Store) replaceCollection(ctx context.Context, pk string, v any) error {
	existing, err := s.queryCollection(ctx, pk, nil)
	if err != nil {
		return err
	}
	next, _ := v.(map[string]any)
	if v != nil && next == nil {
		return fmt.Errorf("%w: collection %s must hold documents", rtdb.ErrInvalidPath, pk)
	}
	for sk, doc := range next {
		if err := s.mutate(ctx, pk, sk, func(any) any { return doc }); err != nil {
			return err
		}
	}
	for sk := range existing {
		if _, keep := next[sk]; keep {
			continue
		}
		if err := s.mutate(ctx, pk, sk, func(any) any { return nil }); err != nil {
			return err
		}
	}
	return nil
}

func collectionSnapshot(key string, docs map[string]any) rtdb.Snapshot {
	if len(docs) == 0 {
		return rtdb.NewSnapshot(key, nil)
	}
	out := make(map[string]any, len(docs))
	for k, d := range docs {
		out[k] = d
	}
	return rtdb.NewSnapshot(key, out)
}

func keyOf(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func versionAV(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", v)}
}

// awsStr is a helper to get a pointer to a string literal.
func awsStr(s string) *string { return &s }

func awsBool(b bool) *bool { return &b }
