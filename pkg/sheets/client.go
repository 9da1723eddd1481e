// Package sheets is a thin Google Sheets values client used to publish the
// lead pool and read the coach availability tab.
package sheets

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/sells-group/coach-cli/internal/resilience"
)

// Client performs spreadsheet value operations.
type Client interface {
	// Values returns the formatted cell values of rng. Trailing empty cells
	// and rows are omitted, as the API does.
	Values(ctx context.Context, spreadsheetID, rng string) ([][]string, error)
	// Clear empties rng, keeping formatting.
	Clear(ctx context.Context, spreadsheetID, rng string) error
	// Update writes rows starting at rng without parsing (RAW input) and
	// returns the number of rows written.
	Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) (int, error)
	// Tabs lists the worksheet titles.
	Tabs(ctx context.Context, spreadsheetID string) ([]string, error)
}

type serviceClient struct {
	svc   *gsheets.Service
	retry resilience.RetryConfig
}

// NewClient authenticates with a service account key file. Extra options are
// appended, so tests can point the client at a local endpoint.
func NewClient(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (Client, error) {
	all := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if credentialsFile != "" {
		all = append(all, option.WithCredentialsFile(credentialsFile))
	}
	return NewClientWithOptions(ctx, append(all, opts...)...)
}

// NewClientWithOptions builds a client from raw client options.
func NewClientWithOptions(ctx context.Context, opts ...option.ClientOption) (Client, error) {
	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "sheets: create service")
	}
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 4
	retry.OnRetry = resilience.RetryLogger("sheets", "values")
	return &serviceClient{svc: svc, retry: retry}, nil
}

func (c *serviceClient) Values(ctx context.Context, spreadsheetID, rng string) ([][]string, error) {
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*gsheets.ValueRange, error) {
		r, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
		return r, classify(err)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: get %s", rng)
	}

	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			if v != nil {
				cells[j] = fmt.Sprint(v)
			}
		}
		out[i] = cells
	}
	return out, nil
}

func (c *serviceClient) Clear(ctx context.Context, spreadsheetID, rng string) error {
	err := resilience.Do(ctx, c.retry, func(ctx context.Context) error {
		_, err := c.svc.Spreadsheets.Values.Clear(spreadsheetID, rng, &gsheets.ClearValuesRequest{}).Context(ctx).Do()
		return classify(err)
	})
	return eris.Wrapf(err, "sheets: clear %s", rng)
}

func (c *serviceClient) Update(ctx context.Context, spreadsheetID, rng string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	vr := &gsheets.ValueRange{MajorDimension: "ROWS", Values: rows}
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*gsheets.UpdateValuesResponse, error) {
		r, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
			ValueInputOption("RAW").Context(ctx).Do()
		return r, classify(err)
	})
	if err != nil {
		return 0, eris.Wrapf(err, "sheets: update %s", rng)
	}
	return int(resp.UpdatedRows), nil
}

func (c *serviceClient) Tabs(ctx context.Context, spreadsheetID string) ([]string, error) {
	resp, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*gsheets.Spreadsheet, error) {
		r, err := c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
		return r, classify(err)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "sheets: describe %s", spreadsheetID)
	}
	titles := make([]string, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties != nil {
			titles = append(titles, s.Properties.Title)
		}
	}
	return titles, nil
}

// classify marks rate limits and server errors as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && resilience.IsTransientHTTPStatus(gerr.Code) {
		return resilience.NewTransientError(err, gerr.Code)
	}
	return err
}
