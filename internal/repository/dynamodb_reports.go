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

// reportPK files anonymous reports under a shared partition.
func reportPK(ownerID string) string {
	if ownerID == "" {
		return pkAnonymous
	}
	return userPK(ownerID)
}

func (c *DynamoClient) CreateReport(ctx context.Context, r domain.IssueReport) error {
	if r.ID == "" {
		return errors.New("repository: CreateReport: id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                reportItem(r),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		return fmt.Errorf("repository: CreateReport: %w", err)
	}
	return nil
}

// ListReports returns the owner's reports, newest first.
func (c *DynamoClient) ListReports(ctx context.Context, ownerID string) ([]domain.IssueReport, error) {
	if ownerID == "" {
		return nil, errors.New("repository: ListReports: owner is required")
	}
	items, err := c.queryPrefix(ctx, reportPK(ownerID), skPrefixReport)
	if err != nil {
		return nil, fmt.Errorf("repository: ListReports query: %w", err)
	}
	out := make([]domain.IssueReport, 0, len(items))
	for _, item := range items {
		r, err := itemToReport(item)
		if err != nil {
			return nil, fmt.Errorf("repository: ListReports unmarshal: %w", err)
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c *DynamoClient) DeleteReport(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return errors.New("repository: DeleteReport: owner is required")
	}
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(c.tableName),
		Key:                 key(reportPK(ownerID), skPrefixReport+id),
		ConditionExpression: aws.String(condExists),
	})
	if err != nil {
		if isConditionFailed(err) {
			return fmt.Errorf("repository: DeleteReport %s: %w", id, domain.ErrNotFound)
		}
		return fmt.Errorf("repository: DeleteReport: %w", err)
	}
	return nil
}

func reportItem(r domain.IssueReport) map[string]types.AttributeValue {
	item := key(reportPK(r.OwnerID), skPrefixReport+r.ID)
	item["id"] = sAttr(r.ID)
	item["subject"] = sAttr(r.Subject)
	item["email"] = sAttr(r.Email)
	item["description"] = sAttr(r.Description)
	item["userAgent"] = sAttr(r.UserAgent)
	item["createdAt"] = timeAttr(r.CreatedAt)
	if r.OwnerID != "" {
		item["ownerId"] = sAttr(r.OwnerID)
	}
	return item
}

func itemToReport(item map[string]types.AttributeValue) (domain.IssueReport, error) {
	var (
		r   domain.IssueReport
		err error
	)
	if r.ID, err = strAttr(item, "id"); err != nil {
		return domain.IssueReport{}, err
	}
	if r.Subject, err = strAttr(item, "subject"); err != nil {
		return domain.IssueReport{}, err
	}
	if r.Email, err = strAttr(item, "email"); err != nil {
		return domain.IssueReport{}, err
	}
	if r.CreatedAt, err = timeAttrValue(item, "createdAt"); err != nil {
		return domain.IssueReport{}, err
	}
	r.OwnerID, _ = optStrAttr(item, "ownerId")
	r.Description, _ = optStrAttr(item, "description")
	r.UserAgent, _ = optStrAttr(item, "userAgent")
	return r, nil
}
