package search

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"webgrave/internal/client"
	"webgrave/internal/models"
	"webgrave/internal/util"
)

const accountMapping = `{
  "mappings": {
    "properties": {
      "id":          {"type": "keyword"},
      "email":       {"type": "search_as_you_type"},
      "firstName":   {"type": "search_as_you_type"},
      "lastName":    {"type": "search_as_you_type"},
      "role":        {"type": "keyword"},
      "isVerified":  {"type": "boolean"},
      "createdAt":   {"type": "date"},
      "lastLoginAt": {"type": "date"}
    }
  }
}`

// AccountIndex keeps a searchable copy of public account fields for the
// admin dashboard. Scylla stays the source of truth.
type AccountIndex struct {
	es    *client.ESClient
	index string
}

func NewAccountIndex(es *client.ESClient, index string) *AccountIndex {
	return &AccountIndex{es: es, index: index}
}

// EnsureIndex creates the index with its mapping if it does not exist.
func (i *AccountIndex) EnsureIndex(ctx context.Context) error {
	api := i.es.Client
	res, err := api.Indices.Exists([]string{i.index}, api.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}

	res, err = api.Indices.Create(i.index,
		api.Indices.Create.WithContext(ctx),
		api.Indices.Create.WithBody(strings.NewReader(accountMapping)),
	)
	if err != nil {
		return fmt.Errorf("failed to create index %s: %w", i.index, err)
	}
	if err := client.ParseResponse(res, nil); err != nil {
		return err
	}
	util.Info("Created account search index", util.String("index", i.index))
	return nil
}

func (i *AccountIndex) IndexAccount(ctx context.Context, account *models.Account) error {
	return i.es.IndexDocument(ctx, i.index, account.AccountID, account.Public())
}

func (i *AccountIndex) RemoveAccount(ctx context.Context, accountID string) error {
	return i.es.DeleteDocument(ctx, i.index, accountID)
}

// SearchAccounts matches query against email and names, prefix-aware so
// partially typed input finds accounts. An exact email match ranks first.
func (i *AccountIndex) SearchAccounts(ctx context.Context, query string, limit int) ([]models.PublicAccount, error) {
	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{
						"multi_match": map[string]any{
							"query":  query,
							"type":   "bool_prefix",
							"fields": []string{"email", "email._2gram", "firstName", "firstName._2gram", "lastName", "lastName._2gram"},
						},
					},
					map[string]any{
						"term": map[string]any{
							"email": map[string]any{"value": util.NormalizeEmail(query), "boost": 10},
						},
					},
				},
				"minimum_should_match": 1,
			},
		},
	}

	res, err := i.es.Search(ctx, i.index, body)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.PublicAccount `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := client.ParseResponse(res, &parsed); err != nil {
		return nil, err
	}

	out := make([]models.PublicAccount, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
