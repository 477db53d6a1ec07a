// Package catalog opens ESM collection descriptors (the JSON files published next to
// CMIP6 cloud stores) and materializes their tabular index.
package catalog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/theimaginaryfoundation/cmip-stitch/stitching/fileutils"
	"github.com/theimaginaryfoundation/cmip-stitch/stitching/logging"
)

// DefaultURL is the Pangeo CMIP6 collection on Google Cloud Storage.
const DefaultURL = "https://storage.googleapis.com/cmip6/pangeo-cmip6.json"

// Descriptor is the ESM collection JSON document.
type Descriptor struct {
	ESMCatVersion      string              `json:"esmcat_version"`
	ID                 string              `json:"id"`
	Description        string              `json:"description,omitempty"`
	CatalogFile        string              `json:"catalog_file,omitempty"`
	CatalogDict        []map[string]any    `json:"catalog_dict,omitempty"`
	Attributes         []Attribute         `json:"attributes"`
	Assets             Assets              `json:"assets"`
	AggregationControl *AggregationControl `json:"aggregation_control,omitempty"`
}

type Attribute struct {
	ColumnName string `json:"column_name"`
	Vocabulary string `json:"vocabulary,omitempty"`
}

type Assets struct {
	ColumnName       string `json:"column_name"`
	Format           string `json:"format,omitempty"`
	FormatColumnName string `json:"format_column_name,omitempty"`
}

type AggregationControl struct {
	VariableColumnName string        `json:"variable_column_name"`
	GroupbyAttrs       []string      `json:"groupby_attrs,omitempty"`
	Aggregations       []Aggregation `json:"aggregations,omitempty"`
}

type Aggregation struct {
	Type          string         `json:"type"`
	AttributeName string         `json:"attribute_name"`
	Options       map[string]any `json:"options,omitempty"`
}

// Validate checks the descriptor on its own, before the index is fetched.
func (d Descriptor) Validate() error {
	hasFile := strings.TrimSpace(d.CatalogFile) != ""
	hasDict := d.CatalogDict != nil
	if hasFile == hasDict {
		return errors.New("descriptor must set exactly one of catalog_file or catalog_dict")
	}
	if strings.TrimSpace(d.Assets.ColumnName) == "" {
		return errors.New("descriptor assets.column_name is empty")
	}
	return nil
}

// Datastore is an opened catalog: the descriptor plus its in-memory index.
type Datastore struct {
	URL        string
	Descriptor Descriptor
	Table      *Table
}

// Client fetches descriptors and their index files over HTTP(S).
type Client struct {
	HTTP *http.Client

	// Retries is the number of extra attempts after a 429 or 5xx response. Zero fails fast.
	Retries int

	// Backoff lists the waits between attempts; the last entry repeats.
	Backoff []time.Duration

	Logger *zap.Logger
}

// NewClient returns a Client whose requests are bounded by timeout (0 means no limit).
func NewClient(timeout time.Duration, retries int, logger *zap.Logger) *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: timeout},
		Retries: retries,
		Backoff: []time.Duration{5 * time.Second, 30 * time.Second, 60 * time.Second},
		Logger:  logging.OrNop(logger),
	}
}

// Open fetches the descriptor at rawURL and then its tabular index.
func (c *Client) Open(ctx context.Context, rawURL string) (*Datastore, error) {
	if ctx == nil {
		return nil, errors.New("Open: ctx is nil")
	}
	if strings.TrimSpace(rawURL) == "" {
		return nil, errors.New("Open: url is empty")
	}
	log := logging.OrNop(c.Logger)

	body, err := c.get(ctx, rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch descriptor %s", rawURL)
	}
	var desc Descriptor
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, errors.Wrapf(err, "decode descriptor %s", rawURL)
	}
	if err := desc.Validate(); err != nil {
		return nil, errors.Wrapf(err, "descriptor %s", rawURL)
	}
	log.Info("catalog descriptor loaded",
		zap.String("id", desc.ID),
		zap.String("esmcat_version", desc.ESMCatVersion),
		zap.Int("attributes", len(desc.Attributes)))

	var table *Table
	if desc.CatalogDict != nil {
		table, err = tableFromDict(desc.CatalogDict, desc)
		if err != nil {
			return nil, errors.Wrapf(err, "catalog_dict of %s", rawURL)
		}
	} else {
		fileURL, err := resolveRef(rawURL, desc.CatalogFile)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve catalog_file %q", desc.CatalogFile)
		}
		log.Info("fetching catalog index", zap.String("catalog_file", fileURL))
		raw, err := c.get(ctx, fileURL)
		if err != nil {
			return nil, errors.Wrapf(err, "fetch catalog_file %s", fileURL)
		}
		table, err = decodeIndex(fileURL, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "parse catalog_file %s", fileURL)
		}
	}

	if err := table.validateAgainst(desc); err != nil {
		return nil, errors.Wrapf(err, "catalog %s", rawURL)
	}
	log.Info("catalog index loaded", zap.Int("rows", table.Len()), zap.Int("columns", len(table.Columns)))
	return &Datastore{URL: rawURL, Descriptor: desc, Table: table}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	log := logging.OrNop(c.Logger)

	for attempt := 0; ; attempt++ {
		b, status, err := fetchOnce(ctx, hc, rawURL)
		if err == nil {
			return b, nil
		}
		if !retryable(status) || attempt >= c.Retries {
			return nil, err
		}
		wait := c.backoff(attempt)
		log.Warn("catalog request failed, retrying",
			zap.String("url", rawURL),
			zap.Int("status", status),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) backoff(attempt int) time.Duration {
	if len(c.Backoff) == 0 {
		return 0
	}
	if attempt >= len(c.Backoff) {
		return c.Backoff[len(c.Backoff)-1]
	}
	return c.Backoff[attempt]
}

func fetchOnce(ctx context.Context, hc *http.Client, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return b, resp.StatusCode, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func decodeIndex(name string, raw []byte) (*Table, error) {
	var r io.Reader = bytes.NewReader(raw)
	if strings.HasSuffix(strings.ToLower(name), ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gunzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	return decodeTable(r)
}

func decodeTable(r io.Reader) (*Table, error) {
	header, rows, err := fileutils.DecodeCSV(r)
	if err != nil {
		return nil, err
	}
	return &Table{Columns: header, Rows: rows}, nil
}

// Export opens the catalog at rawURL and writes its index to outPath as CSV. Nothing is
// written unless the whole catalog was fetched and validated.
func (c *Client) Export(ctx context.Context, rawURL, outPath string) (*Datastore, error) {
	if strings.TrimSpace(outPath) == "" {
		return nil, errors.New("Export: outPath is empty")
	}
	ds, err := c.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if err := ds.Table.WriteCSV(outPath); err != nil {
		return nil, errors.Wrapf(err, "write %s", outPath)
	}
	return ds, nil
}
