package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

type searchFilter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value"`
}

type filterGroup struct {
	Filters []searchFilter `json:"filters"`
}

type searchRequest struct {
	FilterGroups []filterGroup `json:"filterGroups"`
	Properties   []string      `json:"properties"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

type objectPage struct {
	Results []Object `json:"results"`
	Paging  *paging  `json:"paging"`
}

func (c *httpClient) SearchContacts(ctx context.Context, property, value string, properties []string) ([]Object, error) {
	req := searchRequest{
		FilterGroups: []filterGroup{{Filters: []searchFilter{{PropertyName: property, Operator: "EQ", Value: value}}}},
		Properties:   properties,
		Limit:        searchPageSize,
	}

	var out []Object
	for {
		var page objectPage
		if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/contacts/search", nil, req, &page); err != nil {
			return nil, eris.Wrap(err, "hubspot: search contacts")
		}
		out = append(out, page.Results...)
		next := page.Paging.after()
		if next == "" {
			return out, nil
		}
		req.After = next
	}
}

type associationPage struct {
	Results []struct {
		ToObjectID json.Number `json:"toObjectId"`
	} `json:"results"`
	Paging *paging `json:"paging"`
}

func (c *httpClient) DealIDsForContact(ctx context.Context, contactID string) ([]string, error) {
	path := "/crm/v4/objects/contacts/" + url.PathEscape(contactID) + "/associations/deals"
	q := url.Values{"limit": {strconv.Itoa(associationPageSize)}}

	var ids []string
	for {
		var page associationPage
		if err := c.do(ctx, http.MethodGet, path, q, nil, &page); err != nil {
			return nil, eris.Wrapf(err, "hubspot: associations for contact %s", contactID)
		}
		for _, r := range page.Results {
			if r.ToObjectID != "" {
				ids = append(ids, r.ToObjectID.String())
			}
		}
		next := page.Paging.after()
		if next == "" {
			return ids, nil
		}
		q.Set("after", next)
	}
}

type batchInput struct {
	ID string `json:"id"`
}

type batchReadRequest struct {
	Properties []string     `json:"properties"`
	Inputs     []batchInput `json:"inputs"`
}

func (c *httpClient) BatchReadDeals(ctx context.Context, ids []string, properties []string) ([]Object, error) {
	out := make([]Object, 0, len(ids))
	for start := 0; start < len(ids); start += BatchReadSize {
		chunk := ids[start:min(start+BatchReadSize, len(ids))]
		req := batchReadRequest{Properties: properties, Inputs: make([]batchInput, len(chunk))}
		for i, id := range chunk {
			req.Inputs[i] = batchInput{ID: id}
		}

		var page objectPage
		if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/deals/batch/read", nil, req, &page); err != nil {
			return nil, eris.Wrapf(err, "hubspot: batch read deals %d-%d", start, start+len(chunk))
		}
		out = append(out, page.Results...)
	}
	return out, nil
}

func (c *httpClient) DealPipelines(ctx context.Context) ([]Pipeline, error) {
	var resp struct {
		Results []Pipeline `json:"results"`
	}
	if err := c.do(ctx, http.MethodGet, "/crm/v3/pipelines/deals", nil, nil, &resp); err != nil {
		return nil, eris.Wrap(err, "hubspot: deal pipelines")
	}
	return resp.Results, nil
}

func (c *httpClient) Owners(ctx context.Context) ([]Owner, error) {
	q := url.Values{"limit": {strconv.Itoa(ownerPageSize)}}
	var out []Owner
	for {
		var page struct {
			Results []Owner `json:"results"`
			Paging  *paging `json:"paging"`
		}
		if err := c.do(ctx, http.MethodGet, "/crm/v3/owners/", q, nil, &page); err != nil {
			return nil, eris.Wrap(err, "hubspot: owners")
		}
		out = append(out, page.Results...)
		next := page.Paging.after()
		if next == "" {
			return out, nil
		}
		q.Set("after", next)
	}
}
