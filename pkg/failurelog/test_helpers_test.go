package failurelog_test

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-cptgateway/pkg/failurelog"
)

// --- recordingSink ---

type recordingSink struct {
	mu      sync.Mutex
	records []failurelog.Record
	err     error
}

func (s *recordingSink) Record(_ context.Context, rec failurelog.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *recordingSink) Records() []failurelog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]failurelog.Record, len(s.records))
	copy(out, s.records)
	return out
}

// --- Fake GCS client ---

type fakeGCSWriter struct {
	buf      bytes.Buffer
	closed   bool
	closeErr error
	onClose  func(data []byte)
}

func (w *fakeGCSWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeGCSWriter) Close() error {
	w.closed = true
	if w.closeErr != nil {
		return w.closeErr
	}
	if w.onClose != nil {
		w.onClose(w.buf.Bytes())
	}
	return nil
}

type fakeGCSClient struct {
	mu       sync.Mutex
	objects  map[string][]byte
	buckets  []string
	closeErr error
}

func newFakeGCSClient() *fakeGCSClient {
	return &fakeGCSClient{objects: make(map[string][]byte)}
}

func (c *fakeGCSClient) Bucket(name string) failurelog.GCSBucketHandle {
	c.mu.Lock()
	c.buckets = append(c.buckets, name)
	c.mu.Unlock()
	return &fakeBucket{client: c}
}

func (c *fakeGCSClient) Objects() map[string][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string][]byte, len(c.objects))
	for k, v := range c.objects {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

type fakeBucket struct{ client *fakeGCSClient }

func (b *fakeBucket) Object(name string) failurelog.GCSObjectHandle {
	return &fakeObject{client: b.client, name: name}
}

type fakeObject struct {
	client *fakeGCSClient
	name   string
}

func (o *fakeObject) NewWriter(_ context.Context) failurelog.GCSWriter {
	return &fakeGCSWriter{
		closeErr: o.client.closeErr,
		onClose: func(data []byte) {
			o.client.mu.Lock()
			defer o.client.mu.Unlock()
			o.client.objects[o.name] = append([]byte(nil), data...)
		},
	}
}

// --- Fake BigQuery inserter ---

type fakeInserter struct {
	mu   sync.Mutex
	rows []interface{}
	err  error
}

func (f *fakeInserter) Put(_ context.Context, src interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rows = append(f.rows, src)
	return nil
}

// --- Fake Firestore collection ---

type fakeCollection struct {
	mu   sync.Mutex
	docs []interface{}
	err  error
}

func (f *fakeCollection) Add(_ context.Context, data interface{}) (*firestore.DocumentRef, *firestore.WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	f.docs = append(f.docs, data)
	return &firestore.DocumentRef{ID: "doc"}, &firestore.WriteResult{}, nil
}

var errBackend = errors.New("backend unavailable")
