// Package storage keeps the traffic log of handled requests.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
)

// Storage stores traffic logs.
type Storage interface {
	Store(log Log) error
}

// StdoutStorage writes every log as a JSON line to Out, os.Stdout when nil.
type StdoutStorage struct {
	Out io.Writer

	mu sync.Mutex
}

func (s *StdoutStorage) Store(log Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("error in marshalling the traffic log: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.Out
	if out == nil {
		out = os.Stdout
	}
	_, err = out.Write(append(data, '\n'))
	return err
}

// NopStorage drops every log.
type NopStorage struct{}

func (NopStorage) Store(Log) error { return nil }

// DefaultIndex is the Elasticsearch index used when none is configured.
const DefaultIndex = "mokzi-traffic"

// ElasticStorage indexes every log as a document of Index.
type ElasticStorage struct {
	ES    *elasticsearch.Client
	Index string
}

func (s *ElasticStorage) Store(log Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("error in marshalling the traffic log: %w", err)
	}

	index := s.Index
	if index == "" {
		index = DefaultIndex
	}

	res, err := s.ES.Index(index, bytes.NewReader(data), s.ES.Index.WithContext(context.Background()))
	if err != nil {
		return fmt.Errorf("error in indexing the traffic log: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.IsError() {
		return fmt.Errorf("error in indexing the traffic log: %s", res.String())
	}
	return nil
}
