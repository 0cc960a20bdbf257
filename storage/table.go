package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"todos/domain"
)

const edmInt64 = "Edm.Int64"

// TableCollection stores todos as entities of a single Azure Tables
// partition.
type TableCollection struct {
	table     *aztables.Client
	partition string
}

// NewTableOpener returns an Opener for the given table. Creating the service
// client does not touch the network; the table itself is created on open if
// it does not exist yet.
func NewTableOpener(connStr, tableName string) (Opener, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (Collection, error) {
		client := svc.NewClient(tableName)
		if err := CreateTable(ctx, client); err != nil {
			return nil, fmt.Errorf("open table %s: %w", tableName, err)
		}
		return &TableCollection{table: client, partition: tableName}, nil
	}, nil
}

// CreateTable creates the table, treating an existing table as success.
func CreateTable(ctx context.Context, client *aztables.Client) error {
	if _, err := client.CreateTable(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// todoEntity is the wire form of a todo. Int64 properties travel as strings
// with an explicit type annotation.
type todoEntity struct {
	entityKeys
	Text         string `json:"Text"`
	Completed    bool   `json:"Completed"`
	Created      int64  `json:"Created,omitempty,string"`
	CreatedType  string `json:"Created@odata.type,omitempty"`
	Modified     int64  `json:"Modified,omitempty,string"`
	ModifiedType string `json:"Modified@odata.type,omitempty"`
}

func newTodoEntity(partition, id string, todo domain.Todo) todoEntity {
	ent := todoEntity{
		entityKeys: entityKeys{PartitionKey: partition, RowKey: id},
		Text:       todo.Text,
		Completed:  todo.Completed,
		Created:    todo.Created,
		Modified:   todo.Modified,
	}
	if ent.Created != 0 {
		ent.CreatedType = edmInt64
	}
	if ent.Modified != 0 {
		ent.ModifiedType = edmInt64
	}
	return ent
}

func decodeTodoEntity(data []byte) (domain.Todo, error) {
	var ent todoEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Todo{}, err
	}
	return domain.Todo{
		ID:        ent.RowKey,
		Text:      ent.Text,
		Completed: ent.Completed,
		Created:   ent.Created,
		Modified:  ent.Modified,
	}, nil
}

// Create inserts a new entity keyed by id.
func (c *TableCollection) Create(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	if err := validateID("create", id); err != nil {
		return domain.DocumentResult{}, err
	}
	payload, err := json.Marshal(newTodoEntity(c.partition, id, todo))
	if err != nil {
		return domain.DocumentResult{}, err
	}
	if _, err := c.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.DocumentResult{}, classify("create", id, err)
	}
	return domain.DocumentResult{DocumentID: id}, nil
}

// Find lists every entity of the partition matching q.
func (c *TableCollection) Find(ctx context.Context, q Query) (FindResult, error) {
	filter := tableFilter(c.partition, q)
	pager := c.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	res := FindResult{Data: map[string]domain.Todo{}}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return FindResult{}, classify("find", "", err)
		}
		for _, e := range resp.Entities {
			todo, err := decodeTodoEntity(e)
			if err != nil {
				return FindResult{}, err
			}
			res.Data[todo.ID] = todo
		}
	}
	return res, nil
}

// Update merges todo into the existing entity. It fails when the entity does
// not exist.
func (c *TableCollection) Update(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error) {
	if err := validateID("update", id); err != nil {
		return domain.DocumentResult{}, err
	}
	payload, err := json.Marshal(newTodoEntity(c.partition, id, todo))
	if err != nil {
		return domain.DocumentResult{}, err
	}
	et := azcore.ETagAny
	_, err = c.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return domain.DocumentResult{}, classify("update", id, err)
	}
	return domain.DocumentResult{DocumentID: id}, nil
}

// Delete removes the entity keyed by id.
func (c *TableCollection) Delete(ctx context.Context, id string) (domain.DocumentResult, error) {
	if err := validateID("delete", id); err != nil {
		return domain.DocumentResult{}, err
	}
	et := azcore.ETagAny
	if _, err := c.table.DeleteEntity(ctx, c.partition, id, &aztables.DeleteEntityOptions{IfMatch: &et}); err != nil {
		return domain.DocumentResult{}, classify("delete", id, err)
	}
	return domain.DocumentResult{DocumentID: id, Deleted: true}, nil
}

func tableFilter(partition string, q Query) string {
	clauses := []string{"PartitionKey eq " + quoteOData(partition)}
	if q.Completed != nil {
		if *q.Completed {
			clauses = append(clauses, "Completed eq true")
		} else {
			clauses = append(clauses, "Completed eq false")
		}
	}
	if q.Text != nil {
		clauses = append(clauses, "Text eq "+quoteOData(*q.Text))
	}
	return strings.Join(clauses, " and ")
}

func quoteOData(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// classify maps store responses onto domain error kinds. Responses that do
// not describe a problem with the document itself stay unclassified.
func classify(op, id string, err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return domain.NotFound(op, id, err)
		case http.StatusConflict:
			return domain.Conflict(op, id, err)
		case http.StatusBadRequest:
			return &domain.Error{Kind: domain.KindValidation, Op: op, ID: id, Err: fmt.Errorf("rejected by store: %s", respErr.ErrorCode)}
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
