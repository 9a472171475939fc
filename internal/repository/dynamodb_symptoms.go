package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"minimedi/internal/domain"
)

// ListSymptoms returns the owner's records, newest first.
func (c *DynamoClient) ListSymptoms(ctx context.Context, ownerID string) ([]domain.Symptom, error) {
	items, err := c.queryPrefix(ctx, userPK(ownerID), skPrefixSymptom)
	if err != nil {
		return nil, fmt.Errorf("repository: ListSymptoms query: %w", err)
	}
	out := make([]domain.Symptom, 0, len(items))
	for _, item := range items {
		s, err := itemToSymptom(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListSymptoms unmarshal: %w", err)
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// CreateSymptom writes a new record; the id must be unused.
func (c *DynamoClient) CreateSymptom(ctx context.Context, s domain.Symptom) error {
	if s.ID == "" || s.OwnerID == "" {
		return errors.New("repository: CreateSymptom: id and owner are required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                symptomItem(s),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: CreateSymptom %s: %w", s.ID, domain.ErrConflict)
		}
		return fmt.Errorf("repository: CreateSymptom: %w", err)
	}
	return nil
}

// UpdateSymptom applies patch to the owner's record id. The write is
// conditioned on the revision that was read; when another writer got there
// first the record is read and patched again.
func (c *DynamoClient) UpdateSymptom(ctx context.Context, ownerID, id string, patch domain.SymptomPatch) (domain.Symptom, error) {
	for attempt := 0; attempt < updateAttempts; attempt++ {
		s, rev, err := c.getSymptom(ctx, ownerID, id)
		if err != nil {
			return domain.Symptom{}, fmt.Errorf("repository: UpdateSymptom: %w", err)
		}
		patch.Apply(&s)
		err = c.replaceSymptom(ctx, s, rev)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, errRevisionChanged) {
			return domain.Symptom{}, fmt.Errorf("repository: UpdateSymptom: %w", err)
		}
	}
	return domain.Symptom{}, fmt.Errorf("repository: UpdateSymptom %s: gave up after %d attempts", id, updateAttempts)
}

// DeleteSymptom removes the owner's record id together with the
// conversation lock that points at it.
func (c *DynamoClient) DeleteSymptom(ctx context.Context, ownerID, id string) error {
	out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(userPK(ownerID), skPrefixSymptom+id),
		ConditionExpression: aws.String(condExists),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: DeleteSymptom %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: DeleteSymptom: %w", err)
	}
	if out == nil {
		return nil
	}
	convID, _ := optStrAttr(out.Attributes, "conversationId")
	if convID == "" {
		return nil
	}
	// The lock may already point at a newer record for the same conversation.
	if err := c.deleteStaleLock(ctx, domain.ConversationKey{OwnerID: ownerID, ConversationID: convID}, id); err != nil {
		return fmt.Errorf("repository: DeleteSymptom: %w", err)
	}
	return nil
}

// DeleteAllSymptoms removes every record and conversation lock of the owner
// and returns the number of records removed.
func (c *DynamoClient) DeleteAllSymptoms(ctx context.Context, ownerID string) (int, error) {
	records, err := c.queryPrefix(ctx, userPK(ownerID), skPrefixSymptom)
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAllSymptoms query: %w", err)
	}
	locks, err := c.queryPrefix(ctx, userPK(ownerID), skPrefixConv)
	if err != nil {
		return 0, fmt.Errorf("repository: DeleteAllSymptoms query locks: %w", err)
	}
	keys := make([]map[string]types.AttributeValue, 0, len(records)+len(locks))
	for _, item := range append(records, locks...) {
		keys = append(keys, map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]})
	}
	if err := c.batchDelete(ctx, keys); err != nil {
		return 0, fmt.Errorf("repository: DeleteAllSymptoms: %w", err)
	}
	return len(records), nil
}

// UpsertConversationSymptom keeps one record per (owner, conversation). The
// first writer puts the record and a CONV# lock item in one transaction
// guarded by attribute_not_exists; a writer that loses that race re-reads
// the lock and takes the update path.
func (c *DynamoClient) UpsertConversationSymptom(ctx context.Context, k domain.ConversationKey, create domain.Symptom, update domain.SymptomPatch) (domain.Symptom, bool, error) {
	if !k.Valid() {
		return domain.Symptom{}, false, errors.New("repository: UpsertConversationSymptom: owner and conversation are required")
	}
	create.OwnerID = k.OwnerID
	create.ConversationID = k.ConversationID

	for attempt := 0; attempt < upsertAttempts; attempt++ {
		lock, err := c.getItem(ctx, userPK(k.OwnerID), skPrefixConv+k.ConversationID)
		if err != nil {
			return domain.Symptom{}, false, fmt.Errorf("repository: UpsertConversationSymptom get lock: %w", err)
		}

		if lock != nil {
			recordID, err := strAttr(lock, "recordId")
			if err != nil {
				return domain.Symptom{}, false, fmt.Errorf("repository: UpsertConversationSymptom: %w", err)
			}
			rec, err := c.UpdateSymptom(ctx, k.OwnerID, recordID, update)
			if err == nil {
				return rec, false, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return domain.Symptom{}, false, err
			}
			// The record was deleted behind the lock; drop the lock and retry.
			if err := c.deleteStaleLock(ctx, k, recordID); err != nil {
				return domain.Symptom{}, false, err
			}
			continue
		}

		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
			TransactItems: []types.TransactWriteItem{
				{
					Put: &types.Put{
						TableName:           aws.String(c.tableName),
						Item:                convLockItem(k, create.ID),
						ConditionExpression: aws.String(condNotExists),
					},
				},
				{
					Put: &types.Put{
						TableName:           aws.String(c.tableName),
						Item:                symptomItem(create),
						ConditionExpression: aws.String(condNotExists),
					},
				},
			},
		})
		if err == nil {
			return create, true, nil
		}
		if !isTxConditionFailed(err) {
			return domain.Symptom{}, false, fmt.Errorf("repository: UpsertConversationSymptom: %w", err)
		}
	}
	return domain.Symptom{}, false, fmt.Errorf("repository: UpsertConversationSymptom: gave up after %d attempts", upsertAttempts)
}

func (c *DynamoClient) deleteStaleLock(ctx context.Context, k domain.ConversationKey, recordID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(userPK(k.OwnerID), skPrefixConv+k.ConversationID),
		ConditionExpression: aws.String("recordId = :rid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rid": sAttr(recordID),
		},
	})
	if err != nil && !isConditionFailed(err) {
		return fmt.Errorf("repository: delete stale conversation lock: %w", err)
	}
	return nil
}

// getSymptom returns the record and its revision; items written before
// revisions existed read as revision 0.
func (c *DynamoClient) getSymptom(ctx context.Context, ownerID, id string) (domain.Symptom, int, error) {
	item, err := c.getItem(ctx, userPK(ownerID), skPrefixSymptom+id)
	if err != nil {
		return domain.Symptom{}, 0, err
	}
	if item == nil {
		return domain.Symptom{}, 0, fmt.Errorf("symptom %s: %w", id, domain.ErrNotFound)
	}
	s, err := itemToSymptom(item)
	if err != nil {
		return domain.Symptom{}, 0, err
	}
	rev, err := optIntAttr(item, "revision")
	if err != nil {
		return domain.Symptom{}, 0, err
	}
	if rev == nil {
		return s, 0, nil
	}
	return s, *rev, nil
}

// replaceSymptom overwrites the record if it still carries revision rev. It
// never resurrects a record deleted in the meantime; that case also fails
// the condition and the caller's re-read reports it as not found.
func (c *DynamoClient) replaceSymptom(ctx context.Context, s domain.Symptom, rev int) error {
	item := symptomItem(s)
	item["revision"] = nAttr(rev + 1)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                aws.String(c.tableName),
		Item:                     item,
		ConditionExpression:      aws.String(condRevision),
		ExpressionAttributeNames: map[string]string{"#rev": "revision"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":rev": nAttr(rev),
		},
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("symptom %s: %w", s.ID, errRevisionChanged)
		}
		return err
	}
	return nil
}

func convLockItem(k domain.ConversationKey, recordID string) map[string]types.AttributeValue {
	item := key(userPK(k.OwnerID), skPrefixConv+k.ConversationID)
	item["recordId"] = sAttr(recordID)
	return item
}

func symptomItem(s domain.Symptom) map[string]types.AttributeValue {
	item := key(userPK(s.OwnerID), skPrefixSymptom+s.ID)
	item["id"] = sAttr(s.ID)
	item["ownerId"] = sAttr(s.OwnerID)
	item["patientName"] = sAttr(s.PatientName)
	item["title"] = sAttr(s.Title)
	item["gender"] = sAttr(s.Gender)
	item["severity"] = sAttr(string(s.Severity))
	item["riskScore"] = nAttr(s.RiskScore)
	item["description"] = sAttr(s.Description)
	item["aiAnalysis"] = sAttr(s.AIAnalysis)
	item["createdAt"] = timeAttr(s.CreatedAt)
	if s.ConversationID != "" {
		item["conversationId"] = sAttr(s.ConversationID)
	}
	if s.Age != nil {
		item["age"] = nAttr(*s.Age)
	}
	if s.DurationDays != nil {
		item["duration"] = nAttr(*s.DurationDays)
	}
	return item
}

func itemToSymptom(item map[string]types.AttributeValue) (domain.Symptom, error) {
	var (
		s   domain.Symptom
		err error
	)
	if s.ID, err = strAttr(item, "id"); err != nil {
		return domain.Symptom{}, err
	}
	if s.OwnerID, err = strAttr(item, "ownerId"); err != nil {
		return domain.Symptom{}, err
	}
	if s.Title, err = strAttr(item, "title"); err != nil {
		return domain.Symptom{}, err
	}
	if s.CreatedAt, err = timeAttrValue(item, "createdAt"); err != nil {
		return domain.Symptom{}, err
	}
	if s.RiskScore, err = intAttr(item, "riskScore"); err != nil {
		return domain.Symptom{}, err
	}
	severity, err := strAttr(item, "severity")
	if err != nil {
		return domain.Symptom{}, err
	}
	s.Severity = domain.Severity(severity)
	if s.Age, err = optIntAttr(item, "age"); err != nil {
		return domain.Symptom{}, err
	}
	if s.DurationDays, err = optIntAttr(item, "duration"); err != nil {
		return domain.Symptom{}, err
	}
	// Free-text attributes may be absent on older items.
	s.ConversationID, _ = optStrAttr(item, "conversationId")
	s.PatientName, _ = optStrAttr(item, "patientName")
	s.Gender, _ = optStrAttr(item, "gender")
	s.Description, _ = optStrAttr(item, "description")
	s.AIAnalysis, _ = optStrAttr(item, "aiAnalysis")
	return s, nil
}
