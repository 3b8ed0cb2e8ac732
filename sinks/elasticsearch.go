package sinks

import (
	"bytes"
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/rs/zerolog/log"

	"github.com/tarungka/monsoon/internal/models"
	"github.com/tarungka/monsoon/internal/partitioner"
)

// ElasticSink indexes tuples as documents. The document id is derived from
// the tuple key, so replayed tuples overwrite themselves instead of
// duplicating (at-least-once delivery, idempotent effect).
type ElasticSink struct {
	name string
	// Elasticsearch connection details
	elasticCloudId string
	elasticUrl     string
	elasticApiKey  string
	elasticIndex   string

	client *elasticsearch.Client
}

// NewElasticSink builds an elasticsearch sink from config. Requires
// index_name plus either url or cloud_id/api_key.
func NewElasticSink(cfg SinkConfig) (*ElasticSink, error) {
	e := &ElasticSink{
		name:           cfg.Name,
		elasticCloudId: cfg.Config["cloud_id"],
		elasticUrl:     cfg.Config["url"],
		elasticApiKey:  cfg.Config["api_key"],
		elasticIndex:   cfg.Config["index_name"],
	}
	if e.elasticIndex == "" {
		log.Error().Msg("missing index_name in elasticsearch sink config")
		return nil, fmt.Errorf("missing index_name")
	}
	if e.elasticUrl == "" && e.elasticCloudId == "" {
		return nil, fmt.Errorf("elasticsearch sink needs url or cloud_id")
	}
	return e, nil
}

func (e *ElasticSink) Name() string {
	return e.name
}

func (e *ElasticSink) Connect(ctx context.Context) error {
	log.Trace().Msg("connecting to elasticsearch...")
	esCfg := elasticsearch.Config{
		CloudID: e.elasticCloudId,
		APIKey:  e.elasticApiKey,
	}
	if e.elasticUrl != "" {
		esCfg.Addresses = []string{e.elasticUrl}
	}
	client, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		log.Err(err).Msg("creating elasticsearch client")
		return err
	}
	e.client = client
	return nil
}

func (e *ElasticSink) Write(ctx context.Context, p models.Payload) error {
	if e.client == nil {
		return ErrSinkNotConnected
	}
	docId := fmt.Sprintf("%016x", partitioner.HashFnv(p.Key()))
	req := esapi.IndexRequest{
		Index:      e.elasticIndex,
		DocumentID: docId,
		Body:       bytes.NewReader(p.Tuple),
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		log.Err(err).Msg("indexing document")
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("indexing document %s: %s", docId, res.Status())
	}
	return nil
}

func (e *ElasticSink) Disconnect() error {
	log.Info().Msg("closing elasticsearch connection")
	e.client = nil
	return nil
}
