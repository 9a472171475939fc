package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"minimedi/internal/domain"
)

// CreateUser writes the profile and the email and username uniqueness items
// in one transaction. A taken email or username yields domain.ErrConflict.
func (c *DynamoClient) CreateUser(ctx context.Context, u domain.User) error {
	if u.ID == "" || u.Email == "" || u.Username == "" {
		return errors.New("repository: CreateUser: id, email and username are required")
	}
	emailItem := key(emailPK(u.Email), skEmail)
	emailItem["userId"] = sAttr(u.ID)
	usernameItem := key(usernamePK(u.Username), skUsername)
	usernameItem["userId"] = sAttr(u.ID)

	put := func(item map[string]types.AttributeValue) types.TransactWriteItem {
		return types.TransactWriteItem{Put: &types.Put{
			TableName:           aws.String(c.tableName),
			Item:                item,
			ConditionExpression: aws.String(condNotExists),
		}}
	}
	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			put(userItem(u)),
			put(emailItem),
			put(usernameItem),
		},
	})
	if err != nil {
		if isTxConditionFailed(err) {
			return fmt.Errorf("repository: CreateUser %s: %w", u.Username, domain.ErrConflict)
		}
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

func (c *DynamoClient) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	item, err := c.getItem(ctx, userPK(id), skProfile)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByID: %w", err)
	}
	if item == nil {
		return domain.User{}, fmt.Errorf("repository: user %s: %w", id, domain.ErrNotFound)
	}
	u, err := itemToUser(item)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByID unmarshal: %w", err)
	}
	return u, nil
}

// GetUserByEmail matches the email case-insensitively.
func (c *DynamoClient) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	item, err := c.getItem(ctx, emailPK(email), skEmail)
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail: %w", err)
	}
	if item == nil {
		return domain.User{}, fmt.Errorf("repository: user with email: %w", domain.ErrNotFound)
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.User{}, fmt.Errorf("repository: GetUserByEmail: %w", err)
	}
	return c.GetUserByID(ctx, userID)
}

func userItem(u domain.User) map[string]types.AttributeValue {
	item := key(userPK(u.ID), skProfile)
	item["id"] = sAttr(u.ID)
	item["username"] = sAttr(u.Username)
	item["email"] = sAttr(u.Email)
	item["name"] = sAttr(u.Name)
	item["createdAt"] = timeAttr(u.CreatedAt)
	if u.PasswordHash != "" {
		item["passwordHash"] = sAttr(u.PasswordHash)
	}
	return item
}

func itemToUser(item map[string]types.AttributeValue) (domain.User, error) {
	var (
		u   domain.User
		err error
	)
	if u.ID, err = strAttr(item, "id"); err != nil {
		return domain.User{}, err
	}
	if u.Username, err = strAttr(item, "username"); err != nil {
		return domain.User{}, err
	}
	if u.Email, err = strAttr(item, "email"); err != nil {
		return domain.User{}, err
	}
	if u.CreatedAt, err = timeAttrValue(item, "createdAt"); err != nil {
		return domain.User{}, err
	}
	u.Name, _ = optStrAttr(item, "name")
	u.PasswordHash, _ = optStrAttr(item, "passwordHash")
	return u, nil
}
