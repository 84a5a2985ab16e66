package aggregator

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	opensearch "github.com/opensearch-project/opensearch-go/v2"
	opensearchapi "github.com/opensearch-project/opensearch-go/v2/opensearchapi"
	"github.com/sirupsen/logrus"

	"mailtrace/internal/config"
	"mailtrace/internal/model"
	"mailtrace/internal/parser"
	apperr "mailtrace/pkg/errors"
)

const indexPageSize = 500

// IndexAggregator translates (host, keywords, window) into a structured
// OpenSearch query, per spec §4.2.2: an AND of phrase-match keyword
// clauses on the message field, an exact host term, and a timestamp
// range in the configured timezone. Pages are exhausted up to a hard
// result cap.
type IndexAggregator struct {
	cfg       config.OpenSearchConfig
	client    *opensearch.Client
	transport http.RoundTripper
	logger    *logrus.Logger
}

// NewIndexAggregator builds an IndexAggregator, establishing a long-lived
// client connection per spec §5's resource lifecycle ("index-backend
// client connections are long-lived for the lifetime of the pipeline").
func NewIndexAggregator(cfg config.OpenSearchConfig, logger *logrus.Logger) (*IndexAggregator, error) {
	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	addr := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port)

	transport := http.DefaultTransport
	if cfg.UseSSL && !cfg.VerifyCerts {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{addr},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, apperr.ConfigError("new_index_aggregator", "failed to build opensearch client").Wrap(err)
	}

	return &IndexAggregator{cfg: cfg, client: client, transport: transport, logger: logger}, nil
}

// Close releases the long-lived client's idle connections. Callers
// should invoke this on pipeline shutdown per spec §5.
func (a *IndexAggregator) Close() {
	if a.client == nil {
		return
	}
	if transport, ok := a.transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
}

type searchQuery struct {
	Query struct {
		Bool struct {
			Must   []map[string]interface{} `json:"must"`
			Filter []map[string]interface{} `json:"filter"`
		} `json:"bool"`
	} `json:"query"`
	Sort []map[string]interface{} `json:"sort"`
	From int                      `json:"from"`
	Size int                      `json:"size"`
}

func (a *IndexAggregator) buildQuery(host string, keywords []string, windowStart, windowEnd time.Time, from int) ([]byte, error) {
	m := a.cfg.Mapping
	loc := a.cfg.Location()

	var q searchQuery
	for _, kw := range keywords {
		q.Query.Bool.Must = append(q.Query.Bool.Must, map[string]interface{}{
			"match_phrase": map[string]interface{}{m.Message: kw},
		})
	}
	q.Query.Bool.Filter = append(q.Query.Bool.Filter,
		map[string]interface{}{"term": map[string]interface{}{m.Hostname: host}},
		map[string]interface{}{"range": map[string]interface{}{
			m.Timestamp: map[string]interface{}{
				"gte":       windowStart.In(loc).Format(time.RFC3339),
				"lte":       windowEnd.In(loc).Format(time.RFC3339),
				"time_zone": a.cfg.TimeZone,
			},
		}},
	)
	q.Sort = []map[string]interface{}{{m.Timestamp: "asc"}}
	q.From = from
	q.Size = indexPageSize

	return json.Marshal(q)
}

type searchHit struct {
	Source map[string]interface{} `json:"_source"`
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []searchHit `json:"hits"`
	} `json:"hits"`
}

func (a *IndexAggregator) Query(ctx context.Context, host string, keywords []string, windowStart, windowEnd time.Time) ([]model.LogRecord, error) {
	resultCap := a.cfg.MaxResults
	if resultCap <= 0 {
		resultCap = 10000
	}

	var candidates []model.LogRecord
	for from := 0; ; from += indexPageSize {
		body, err := a.buildQuery(host, keywords, windowStart, windowEnd, from)
		if err != nil {
			return nil, apperr.AggregatorError("query", "failed to build query").Wrap(err)
		}

		req := opensearchapi.SearchRequest{
			Index: []string{a.cfg.Index},
			Body:  bytes.NewReader(body),
		}
		res, err := req.Do(ctx, a.client)
		if err != nil {
			return nil, apperr.AggregatorError("query", "opensearch request failed for host "+host).Wrap(err).WithMetadata("host", host)
		}

		page, err := decodeResponse(res)
		res.Body.Close()
		if err != nil {
			return nil, apperr.AggregatorError("query", "malformed opensearch response").Wrap(err)
		}

		for _, hit := range page.Hits.Hits {
			rec, ok := recordFromSource(hit.Source, a.cfg.Mapping)
			if ok {
				candidates = append(candidates, rec)
			}
		}

		if len(candidates) >= resultCap {
			if a.logger != nil {
				a.logger.WithFields(logrus.Fields{
					"component": "index_aggregator",
					"host":      host,
					"cap":       resultCap,
				}).Warn("result cap reached; truncating")
			}
			candidates = candidates[:resultCap]
			break
		}
		if len(page.Hits.Hits) < indexPageSize {
			break
		}
	}

	return filterAndSort(candidates, keywords, windowStart, windowEnd), nil
}

func decodeResponse(res *opensearchapi.Response) (*searchResponse, error) {
	if res.IsError() {
		return nil, fmt.Errorf("opensearch returned status %s", res.Status())
	}
	var out searchResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func recordFromSource(src map[string]interface{}, m config.IndexMapping) (model.LogRecord, bool) {
	ts, ok := src[m.Timestamp].(string)
	if !ok {
		return model.LogRecord{}, false
	}
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return model.LogRecord{}, false
	}

	host, _ := src[m.Hostname].(string)
	message, _ := src[m.Message].(string)
	service, _ := src[m.Service].(string)

	queueID, rest := parser.SplitQueueID(message)

	return model.LogRecord{
		Timestamp: parsed,
		Host:      host,
		Service:   service,
		QueueID:   queueID,
		Message:   rest,
	}, true
}
